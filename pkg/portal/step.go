package portal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action is one entry of the step vocabulary
type Action string

const (
	ActionTypeUsername  Action = "type_username"
	ActionTypePassword  Action = "type_password"
	ActionClick         Action = "click"
	ActionCloseModal    Action = "close_modal"
	ActionFill          Action = "fill"
	ActionFillStartDate Action = "fill_start_date"
	ActionFillEndDate   Action = "fill_end_date"
	ActionFillYearMonth Action = "fill_year_month"
	ActionWait          Action = "wait"
)

// Format names a date rendering
type Format string

const (
	FormatDayMonthYear Format = "dd/mm/yyyy"
	FormatISODate      Format = "yyyy-mm-dd"
	FormatMonthYear    Format = "mm/yyyy"
	FormatYearMonth    Format = "yyyymm"
)

// MaxWait bounds a single wait step
const MaxWait = 60_000

var (
	ErrInvalidStep   = errors.New("invalid step")
	ErrInvalidPeriod = errors.New("invalid period")
)

var layouts = map[Format]string{
	FormatDayMonthYear: "02/01/2006",
	FormatISODate:      "2006-01-02",
	FormatMonthYear:    "01/2006",
	FormatYearMonth:    "200601",
}

// Step is one instruction for the automation collaborator
type Step struct {
	Action   Action `yaml:"action" json:"action"`
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Format   Format `yaml:"format,omitempty" json:"format,omitempty"`

	// Value is the text typed by a fill step
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// Millis is the duration of a wait step
	Millis int `yaml:"millis,omitempty" json:"millis,omitempty"`
}

// Validate checks the step against the vocabulary
func (s Step) Validate() error {
	switch s.Action {
	case ActionWait:
		if s.Millis <= 0 || s.Millis > MaxWait {
			return fmt.Errorf("%w: wait must be between 1 and %d ms, got %d", ErrInvalidStep, MaxWait, s.Millis)
		}
		return nil
	case ActionCloseModal:
		// the collaborator dismisses whatever modal is open when no selector is given
		return s.checkFormat()
	case ActionTypeUsername, ActionTypePassword, ActionClick:
	case ActionFill:
		if s.Value == "" {
			return fmt.Errorf("%w: fill requires a value", ErrInvalidStep)
		}
	case ActionFillStartDate, ActionFillEndDate, ActionFillYearMonth:
	case "":
		return fmt.Errorf("%w: action is required", ErrInvalidStep)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidStep, s.Action)
	}

	if s.Selector == "" {
		return fmt.Errorf("%w: %s requires a selector", ErrInvalidStep, s.Action)
	}
	return s.checkFormat()
}

func (s Step) checkFormat() error {
	if s.Format == "" {
		return nil
	}
	if _, ok := layouts[s.Format]; !ok {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidStep, s.Format)
	}
	return nil
}

// Period is the month a portal query covers
type Period struct {
	Year  int
	Month time.Month
}

// Validate checks the month and year ranges
func (p Period) Validate() error {
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, int(p.Month))
	}
	if p.Year < 1 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	return nil
}

// Start returns the first day of the month
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the month
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ParsePeriod accepts yyyy-mm, mm/yyyy or yyyymm
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	var year, month string
	switch {
	case len(s) == 7 && s[4] == '-':
		year, month = s[:4], s[5:]
	case len(s) == 7 && s[2] == '/':
		month, year = s[:2], s[3:]
	case len(s) == 6:
		year, month = s[:4], s[4:]
	default:
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}

	y, err := strconv.Atoi(year)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}

	p := Period{Year: y, Month: time.Month(m)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Credentials are the portal login of the company
type Credentials struct {
	Username string
	Password string
}

// ResolveValue returns the text a step types, or "" for steps that type nothing.
func ResolveValue(step Step, period Period, creds Credentials) (string, error) {
	if err := step.Validate(); err != nil {
		return "", err
	}

	switch step.Action {
	case ActionTypeUsername:
		return creds.Username, nil
	case ActionTypePassword:
		return creds.Password, nil
	case ActionFill:
		return step.Value, nil
	case ActionFillStartDate, ActionFillEndDate, ActionFillYearMonth:
	default:
		return "", nil
	}

	if err := period.Validate(); err != nil {
		return "", err
	}

	format := step.Format
	if format == "" {
		format = FormatDayMonthYear
		if step.Action == ActionFillYearMonth {
			format = FormatMonthYear
		}
	}

	day := period.Start()
	if step.Action == ActionFillEndDate {
		day = period.End()
	}
	return day.Format(layouts[format]), nil
}
