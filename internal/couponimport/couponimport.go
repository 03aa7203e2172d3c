// Package couponimport bulk-loads coupons from gzip-compressed CSV files.
//
// Expected columns, with an optional header row:
//
//	code,type,kind,discount,minimum_order,maximum_discount,start_date,end_date,quantity[,hidden]
//
// Dates are RFC 3339 timestamps or plain 2006-01-02 days; a plain end date
// covers the whole day (UTC).
package couponimport

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopfront/internal/domain/coupon"
)

var couponNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://shopfront.local/coupons"))

// CouponID derives a stable id for a new coupon from its code.
func CouponID(code string) string {
	return uuid.NewSHA1(couponNamespace, []byte(strings.ToUpper(code))).String()
}

// Writer persists coupon batches. Upserts must match existing coupons by code.
type Writer interface {
	UpsertCoupons(ctx context.Context, coupons []coupon.Coupon) error
}

type Config struct {
	BatchSize int
	// ExpectedCodes and FalsePositiveRate size the dedupe filter.
	ExpectedCodes     uint
	FalsePositiveRate float64
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.ExpectedCodes == 0 {
		c.ExpectedCodes = 10_000_000
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		c.FalsePositiveRate = 0.0001
	}
}

// Stats summarizes an import.
type Stats struct {
	Files    int
	Rows     int
	Rejected int
	// Deferred counts rows whose code the filter had probably seen already.
	// They are written after everything else, one per code.
	Deferred int
	Written  int
}

// Importer streams files concurrently into batched upserts.
type Importer struct {
	w   Writer
	cfg Config
	lg  *slog.Logger
}

func New(w Writer, cfg Config, lg *slog.Logger) *Importer {
	cfg.setDefaults()
	if lg == nil {
		lg = slog.Default()
	}
	return &Importer{w: w, cfg: cfg, lg: lg}
}

type row struct {
	c   coupon.Coupon
	err error
	loc string
}

// Import reads every path and writes the parsed coupons. Malformed rows are
// logged and counted, not fatal.
//
// Codes are deduplicated with a bloom filter so memory stays bounded for
// large inputs. A row the filter reports as seen is held back and written
// at the end, which keeps false positives from dropping distinct codes.
// Which row wins for a code repeated across files is unspecified.
func (im *Importer) Import(ctx context.Context, paths []string) (Stats, error) {
	stats := Stats{Files: len(paths)}
	rows := make(chan row, 4*im.cfg.BatchSize)

	g, ctx := errgroup.WithContext(ctx)
	var readers errgroup.Group
	for _, path := range paths {
		readers.Go(func() error {
			return readFile(ctx, path, rows)
		})
	}
	g.Go(func() error {
		err := readers.Wait()
		close(rows)
		return err
	})
	g.Go(func() error {
		return im.consume(ctx, rows, &stats)
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (im *Importer) consume(ctx context.Context, rows <-chan row, stats *Stats) error {
	filter := bloom.NewWithEstimates(im.cfg.ExpectedCodes, im.cfg.FalsePositiveRate)
	deferred := make(map[string]coupon.Coupon)
	batch := make([]coupon.Coupon, 0, im.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.w.UpsertCoupons(ctx, batch); err != nil {
			return errors.Wrapf(err, "write batch of %d", len(batch))
		}
		stats.Written += len(batch)
		im.lg.Info("batch written", slog.Int("written", stats.Written))
		batch = batch[:0]
		return nil
	}

	for r := range rows {
		stats.Rows++
		if r.err != nil {
			stats.Rejected++
			im.lg.Warn("row rejected", slog.String("at", r.loc), slog.String("error", r.err.Error()))
			continue
		}
		key := strings.ToUpper(r.c.Code)
		if filter.TestAndAddString(key) {
			stats.Deferred++
			deferred[key] = r.c
			continue
		}
		batch = append(batch, r.c)
		if len(batch) == im.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	// Readers may have stopped early on cancellation.
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, key := range slices.Sorted(maps.Keys(deferred)) {
		batch = append(batch, deferred[key])
		if len(batch) == im.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func readFile(ctx context.Context, path string, out chan<- row) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		loc := path + ":" + strconv.Itoa(line)
		var out1 row
		switch {
		case err != nil:
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return errors.Wrapf(err, "read %s", loc)
			}
			out1 = row{err: err, loc: loc}
		case line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "code"):
			continue
		default:
			c, err := ParseRecord(rec)
			out1 = row{c: c, err: err, loc: loc}
		}

		select {
		case out <- out1:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseRecord converts one CSV record to a coupon with a derived ID.
func ParseRecord(rec []string) (coupon.Coupon, error) {
	if len(rec) != 9 && len(rec) != 10 {
		return coupon.Coupon{}, errors.Errorf("expected 9 or 10 fields, got %d", len(rec))
	}
	field := func(i int) string { return strings.TrimSpace(rec[i]) }

	c := coupon.Coupon{
		Code: field(0),
		Type: coupon.Type(strings.ToLower(field(1))),
		Kind: coupon.Kind(strings.ToLower(field(2))),
	}
	c.ID = CouponID(c.Code)
	if c.Code == "" {
		return c, errors.New("empty code")
	}
	if !c.Type.Valid() {
		return c, errors.Errorf("unknown type %q", c.Type)
	}
	if !c.Kind.Valid() {
		return c, errors.Errorf("unknown kind %q", c.Kind)
	}

	var err error
	if c.Discount, err = parseMoney(field(3), "discount"); err != nil {
		return c, err
	}
	if c.MinimumOrder, err = parseMoney(field(4), "minimum_order"); err != nil {
		return c, err
	}
	if c.MaximumDiscount, err = parseMoney(field(5), "maximum_discount"); err != nil {
		return c, err
	}
	if c.Kind == coupon.KindPercent && c.Discount.GreaterThan(decimal.NewFromInt(100)) {
		return c, errors.Errorf("percent discount %s above 100", c.Discount)
	}

	if c.StartDate, err = parseDate(field(6), false); err != nil {
		return c, errors.Wrap(err, "start_date")
	}
	if c.EndDate, err = parseDate(field(7), true); err != nil {
		return c, errors.Wrap(err, "end_date")
	}
	if c.EndDate.Before(c.StartDate) {
		return c, errors.New("end_date before start_date")
	}

	if c.Quantity, err = strconv.Atoi(field(8)); err != nil || c.Quantity < 0 {
		return c, errors.Errorf("invalid quantity %q", field(8))
	}
	if len(rec) == 10 && field(9) != "" {
		if c.Hidden, err = strconv.ParseBool(field(9)); err != nil {
			return c, errors.Errorf("invalid hidden flag %q", field(9))
		}
	}
	return c, nil
}

func parseMoney(s, name string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse %s", name)
	}
	if v.IsNegative() {
		return decimal.Decimal{}, errors.Errorf("%s must not be negative", name)
	}
	return v, nil
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid date %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
