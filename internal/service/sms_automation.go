package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/repository"
	"retail-integration/internal/util"

	"gopkg.in/yaml.v3"
)

// Campaign is one scheduled SMS blast. Days holds "daily", weekday names
// (mon, monday, ...) or days of the month (1-31).
type Campaign struct {
	Name     string   `yaml:"name"`
	Hour     int      `yaml:"hour"`
	Minute   int      `yaml:"minute"`
	Days     []string `yaml:"days"`
	Query    string   `yaml:"query"`
	Template string   `yaml:"template"`
	MediaURL string   `yaml:"media_url"`

	tmpl *template.Template
}

type campaignFile struct {
	Campaigns []Campaign `yaml:"campaigns"`
}

// LoadCampaigns reads and validates the campaign file.
func LoadCampaigns(path string) ([]Campaign, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaigns: %w", err)
	}
	return ParseCampaigns(b)
}

func ParseCampaigns(b []byte) ([]Campaign, error) {
	var f campaignFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse campaigns: %w", err)
	}

	seen := map[string]bool{}
	for i := range f.Campaigns {
		c := &f.Campaigns[i]
		if c.Name == "" {
			return nil, fmt.Errorf("campaign %d: missing name", i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("campaign %q: duplicate name", c.Name)
		}
		seen[c.Name] = true

		if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
			return nil, fmt.Errorf("campaign %q: bad time %02d:%02d", c.Name, c.Hour, c.Minute)
		}
		if len(c.Days) == 0 {
			return nil, fmt.Errorf("campaign %q: no days", c.Name)
		}
		for _, d := range c.Days {
			if _, _, ok := parseDay(d); !ok {
				return nil, fmt.Errorf("campaign %q: bad day %q", c.Name, d)
			}
		}
		if strings.TrimSpace(c.Query) == "" {
			return nil, fmt.Errorf("campaign %q: missing query", c.Name)
		}

		tmpl, err := template.New(c.Name).Option("missingkey=error").Parse(c.Template)
		if err != nil {
			return nil, fmt.Errorf("campaign %q: template: %w", c.Name, err)
		}
		c.tmpl = tmpl
	}
	return f.Campaigns, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// parseDay returns a weekday, a day of month (weekday -1) or daily (both -1).
func parseDay(s string) (time.Weekday, int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "daily" {
		return -1, -1, true
	}
	if len(s) >= 3 {
		if wd, ok := weekdays[s[:3]]; ok && strings.HasPrefix(strings.ToLower(wd.String()), s) {
			return wd, -1, true
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 31 {
		return -1, n, true
	}
	return 0, 0, false
}

// Due reports whether the campaign fires in the minute containing t.
func (c *Campaign) Due(t time.Time) bool {
	if t.Hour() != c.Hour || t.Minute() != c.Minute {
		return false
	}
	for _, d := range c.Days {
		wd, dom, ok := parseDay(d)
		switch {
		case !ok:
			continue
		case wd == -1 && dom == -1:
			return true
		case wd >= 0 && t.Weekday() == wd:
			return true
		case dom > 0 && t.Day() == dom:
			return true
		}
	}
	return false
}

type recipientData struct {
	CustNo         string
	Phone          string
	Name           string
	FirstName      string
	Category       string
	RewardsBalance int64
}

func (c *Campaign) Render(r repository.Recipient) (string, error) {
	first, _, _ := strings.Cut(strings.TrimSpace(r.Name), " ")
	var b strings.Builder
	err := c.tmpl.Execute(&b, recipientData{
		CustNo:         r.CustNo,
		Phone:          r.Phone,
		Name:           r.Name,
		FirstName:      first,
		Category:       r.Category,
		RewardsBalance: r.RewardsBalance,
	})
	if err != nil {
		return "", fmt.Errorf("render campaign %s: %w", c.Name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

type CampaignReport struct {
	Campaign     string
	Sent         int
	Failed       int
	Unsubscribed int
	Landlines    int
	OptedOut     int
}

type CampaignService interface {
	// Run sends every campaign due at now that has not yet run this minute.
	Run(ctx context.Context, now time.Time) ([]CampaignReport, error)
}

type campaignServiceImpl struct {
	campaigns []Campaign
	smsLog    repository.SMSRepository
	customers repository.CustomerRepository
	texts     texter
	sink      errsink.Sink
	loc       *time.Location

	mu      sync.Mutex
	lastRun map[string]time.Time
	logger  *slog.Logger
}

func NewCampaignService(
	campaigns []Campaign,
	smsLog repository.SMSRepository,
	customers repository.CustomerRepository,
	sms client.SMSSender,
	sink errsink.Sink,
	loc *time.Location,
	logger *slog.Logger,
) CampaignService {
	return &campaignServiceImpl{
		campaigns: campaigns,
		smsLog:    smsLog,
		customers: customers,
		texts:     texter{sender: sms, log: smsLog, logger: logger},
		sink:      sink,
		loc:       loc,
		lastRun:   make(map[string]time.Time),
		logger:    logger,
	}
}

func (s *campaignServiceImpl) Run(ctx context.Context, now time.Time) ([]CampaignReport, error) {
	now = now.In(s.loc).Truncate(time.Minute)

	var reports []CampaignReport
	for i := range s.campaigns {
		c := &s.campaigns[i]
		if !c.Due(now) || !s.claim(c.Name, now) {
			continue
		}

		report, err := s.send(ctx, c)
		if err != nil {
			s.sink.Record(ctx, "campaign."+c.Name, err)
			continue
		}
		s.logger.Info("campaign sent", "campaign", c.Name, "sent", report.Sent, "failed", report.Failed,
			"unsubscribed", report.Unsubscribed, "landlines", report.Landlines, "opted_out", report.OptedOut)
		reports = append(reports, report)
	}
	return reports, ctx.Err()
}

func (s *campaignServiceImpl) claim(name string, minute time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun[name].Equal(minute) {
		return false
	}
	s.lastRun[name] = minute
	return true
}

func (s *campaignServiceImpl) send(ctx context.Context, c *Campaign) (CampaignReport, error) {
	report := CampaignReport{Campaign: c.Name}

	recipients, err := s.smsLog.Recipients(ctx, c.Query)
	if err != nil {
		return report, err
	}

	phones := make([]string, 0, len(recipients))
	for _, r := range recipients {
		phones = append(phones, r.Phone)
	}
	optedOut, err := s.customers.OptedOut(ctx, phones)
	if err != nil {
		return report, err
	}

	sent := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		phone := util.ERPPhone(r.Phone)
		if phone == "" || sent[phone] {
			continue
		}
		sent[phone] = true
		if optedOut[phone] {
			report.OptedOut++
			continue
		}

		body, err := c.Render(r)
		if err != nil {
			return report, err
		}

		_, err = s.texts.send(ctx, r.CustNo, phone, body, c.MediaURL, c.Name)
		if err == nil {
			report.Sent++
			continue
		}
		report.Failed++

		code := client.TwilioCode(err)
		switch {
		case code == client.TwilioUnsubscribed:
			if _, err := s.customers.SetSMSSubscribe(ctx, phone, false); err != nil {
				s.sink.Record(ctx, "campaign.unsubscribe", err)
			}
			report.Unsubscribed++
		case client.IsLandlineCode(code):
			if err := s.customers.DemoteMobile(ctx, phone); err != nil {
				s.sink.Record(ctx, "campaign.landline", err)
			}
			report.Landlines++
		case code == 0 && !errors.Is(err, util.ErrInvalidPhone):
			// transport trouble, not a bad number
			s.sink.Record(ctx, "campaign.send", err)
		}
	}
	return report, nil
}
