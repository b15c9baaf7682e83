package service

import "time"

func (s *VersionService) SetClock(now func() time.Time) {
	s.now = now
}
