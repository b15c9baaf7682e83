package service

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"fileversions/internal/domain"
)

const day = 24 * time.Hour

// maxDays наибольший срок, который помещается в time.Duration
const maxDays = math.MaxInt64 / int64(day)

// RetentionPolicy определяет, какие версии можно удалить.
// Версии с label не удаляются никогда.
type RetentionPolicy struct {
	// Auto прореживает версии по интервалам
	Auto bool
	// MinAge версии моложе этого возраста не прореживаются
	MinAge time.Duration
	// MaxAge версии старше этого возраста удаляются, 0 означает без ограничения
	MaxAge time.Duration
}

// expireInterval версии внутри интервала хранятся не чаще одной на step секунд
type expireInterval struct {
	endsAfter int64 // -1 означает интервал без конца
	step      int64
}

var expireIntervals = []expireInterval{
	{endsAfter: 10, step: 2},
	{endsAfter: 60, step: 10},
	{endsAfter: 3600, step: 60},
	{endsAfter: 86400, step: 3600},
	{endsAfter: 2592000, step: 86400},
	{endsAfter: -1, step: 604800},
}

// ParseRetentionPolicy разбирает строку вида "auto", "D1, auto", "auto, D2", "D1, D2"
// (в днях) или "disabled"
func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto":
		return RetentionPolicy{Auto: true}, nil
	case "disabled":
		return RetentionPolicy{}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return RetentionPolicy{}, fmt.Errorf("invalid retention policy %q", s)
	}
	minPart := strings.TrimSpace(parts[0])
	maxPart := strings.TrimSpace(parts[1])

	if minPart == "auto" && maxPart == "auto" {
		return RetentionPolicy{Auto: true}, nil
	}

	var p RetentionPolicy
	if minPart == "auto" {
		p.Auto = true
	} else {
		days, err := parseDays(minPart)
		if err != nil {
			return RetentionPolicy{}, fmt.Errorf("invalid retention min age: %w", err)
		}
		p.MinAge = days
	}

	if maxPart == "auto" {
		p.Auto = true
	} else {
		days, err := parseDays(maxPart)
		if err != nil {
			return RetentionPolicy{}, fmt.Errorf("invalid retention max age: %w", err)
		}
		p.MaxAge = days
	}

	// "D1, D2": версии живут не меньше D1 дней
	if p.MaxAge > 0 && p.MaxAge < p.MinAge {
		p.MaxAge = p.MinAge
	}

	return p, nil
}

func parseDays(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative number of days %d", n)
	}
	if int64(n) > maxDays {
		return 0, fmt.Errorf("number of days %d exceeds %d", n, maxDays)
	}
	return time.Duration(n) * day, nil
}

// Enabled сообщает, удаляет ли политика хоть что-нибудь
func (p RetentionPolicy) Enabled() bool {
	return p.Auto || p.MaxAge > 0
}

// ExpireList возвращает версии, которые можно удалить на момент now.
// versions должны принадлежать одному файлу.
func (p RetentionPolicy) ExpireList(now time.Time, versions []*domain.VersionRecord) []*domain.VersionRecord {
	if !p.Enabled() || len(versions) == 0 {
		return nil
	}

	sorted := make([]*domain.VersionRecord, 0, len(versions))
	for _, v := range versions {
		if _, ok := v.Timestamp(); ok {
			sorted = append(sorted, v)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, _ := sorted[i].Timestamp()
		tj, _ := sorted[j].Timestamp()
		return ti > tj
	})

	nowUnix := now.Unix()
	expired := make(map[*domain.VersionRecord]bool)

	if p.MaxAge > 0 {
		limit := nowUnix - int64(p.MaxAge/time.Second)
		for _, v := range sorted {
			if ts, _ := v.Timestamp(); ts < limit {
				expired[v] = true
			}
		}
	}

	if p.Auto {
		limit := nowUnix - int64(p.MinAge/time.Second)
		for _, v := range autoExpireList(nowUnix, sorted) {
			if ts, _ := v.Timestamp(); p.MinAge == 0 || ts < limit {
				expired[v] = true
			}
		}
	}

	result := make([]*domain.VersionRecord, 0, len(expired))
	for i, v := range sorted {
		if i == 0 || !expired[v] {
			continue
		}
		if _, labeled := v.Label(); labeled {
			continue
		}
		result = append(result, v)
	}
	return result
}

// autoExpireList прореживает версии по expireIntervals.
// versions отсортированы по убыванию timestamp, первая версия сохраняется всегда.
func autoExpireList(now int64, versions []*domain.VersionRecord) []*domain.VersionRecord {
	if len(versions) < 2 {
		return nil
	}

	var toDelete []*domain.VersionRecord

	interval := 0
	step := expireIntervals[interval].step
	nextInterval := now - expireIntervals[interval].endsAfter
	openEnded := false

	prevTimestamp, _ := versions[0].Timestamp()
	nextVersion := prevTimestamp - step

	for _, v := range versions[1:] {
		ts, _ := v.Timestamp()
		for {
			if openEnded || prevTimestamp > nextInterval {
				if ts > nextVersion {
					// версии слишком близко друг к другу
					toDelete = append(toDelete, v)
				} else {
					nextVersion = ts - step
					prevTimestamp = ts
				}
				break
			}

			interval++
			step = expireIntervals[interval].step
			nextVersion = prevTimestamp - step
			if expireIntervals[interval].endsAfter == -1 {
				openEnded = true
			} else {
				nextInterval = now - expireIntervals[interval].endsAfter
			}
		}
	}

	return toDelete
}
