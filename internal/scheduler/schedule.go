// Package scheduler triggers jobs on a cron cadence. Schedules are kept as
// the five cron fields so the same value can be rendered for robfig/cron in
// process or as an EventBridge rule expression.
package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Schedule struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// Daily fires at midnight.
func Daily() Schedule {
	return Schedule{Minute: "0", Hour: "0", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
}

// Spec renders the standard five-field cron line.
func (s Schedule) Spec() string {
	return strings.Join([]string{
		field(s.Minute), field(s.Hour), field(s.DayOfMonth), field(s.Month), field(s.DayOfWeek),
	}, " ")
}

// EventBridgeExpression renders a cron() rule expression. EventBridge needs
// one of day-of-month and day-of-week to be "?" and carries a year field.
func (s Schedule) EventBridgeExpression() string {
	dom, dow := field(s.DayOfMonth), field(s.DayOfWeek)
	if dow == "*" {
		dow = "?"
	} else {
		dom = "?"
	}
	return fmt.Sprintf("cron(%s %s %s %s %s *)", field(s.Minute), field(s.Hour), dom, field(s.Month), dow)
}

func (s Schedule) Validate() error {
	if field(s.DayOfMonth) != "*" && field(s.DayOfWeek) != "*" {
		return errors.New("schedule: day of month and day of week cannot both be restricted")
	}
	if _, err := parser.Parse(s.Spec()); err != nil {
		return fmt.Errorf("schedule %q: %w", s.Spec(), err)
	}
	return nil
}

// Next returns the first activation strictly after t.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	sched, err := parser.Parse(s.Spec())
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

func (s Schedule) String() string { return s.Spec() }

func field(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "*"
	}
	return v
}
