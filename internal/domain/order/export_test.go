package order

import "time"

// SetCodeGenerator replaces the order code generator.
func (s *Service) SetCodeGenerator(f func(time.Time) string) { s.newCode = f }
