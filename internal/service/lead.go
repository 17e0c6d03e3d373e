package service

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/dto"
	"retail-integration/internal/errsink"
	"retail-integration/internal/model"
	"retail-integration/internal/posting"
	"retail-integration/internal/repository"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const leadSchemaURL = "https://schemas.local/design-lead.schema.json"

const leadSchema = `{
  "type": "object",
  "required": ["first_name", "last_name"],
  "anyOf": [
    {"required": ["email"], "properties": {"email": {"minLength": 3}}},
    {"required": ["phone"], "properties": {"phone": {"minLength": 7}}}
  ],
  "properties": {
    "first_name": {"type": "string", "minLength": 1, "maxLength": 40},
    "last_name":  {"type": "string", "minLength": 1, "maxLength": 40},
    "email":      {"type": "string", "maxLength": 100},
    "phone":      {"type": "string", "maxLength": 25},
    "address":    {"type": "string"},
    "city":       {"type": "string"},
    "state":      {"type": "string"},
    "zip":        {"type": "string"},
    "timeline":   {"type": "string", "maxLength": 40},
    "budget":     {"type": "string", "maxLength": 40},
    "interests":  {"type": "array", "items": {"type": "string"}},
    "comments":   {"type": "string"}
  }
}`

type LeadService interface {
	OnDesignLead(ctx context.Context, body []byte) error
}

type leadServiceImpl struct {
	schema     *jsonschema.Schema
	customers  repository.CustomerRepository
	leads      repository.LeadRepository
	texts      texter
	mailer     client.Mailer
	printer    client.Printer
	sheet      client.SheetMirror
	sink       errsink.Sink
	salesTeam  []string
	storePhone string
	logger     *slog.Logger
}

func NewLeadService(
	customers repository.CustomerRepository,
	leads repository.LeadRepository,
	sms client.SMSSender,
	smsLog repository.SMSRepository,
	mailer client.Mailer,
	printer client.Printer,
	sheet client.SheetMirror,
	sink errsink.Sink,
	salesTeam []string,
	storePhone string,
	logger *slog.Logger,
) (LeadService, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(leadSchemaURL, strings.NewReader(leadSchema)); err != nil {
		return nil, fmt.Errorf("load lead schema: %w", err)
	}
	schema, err := c.Compile(leadSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile lead schema: %w", err)
	}

	return &leadServiceImpl{
		schema:     schema,
		customers:  customers,
		leads:      leads,
		texts:      texter{sender: sms, log: smsLog, logger: logger},
		mailer:     mailer,
		printer:    printer,
		sheet:      sheet,
		sink:       sink,
		salesTeam:  salesTeam,
		storePhone: storePhone,
		logger:     logger,
	}, nil
}

func (s *leadServiceImpl) OnDesignLead(ctx context.Context, body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode design lead: %w: %w", apperr.ErrBadPayload, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("validate design lead: %w: %w", apperr.ErrBadPayload, err)
	}

	var in dto.DesignLead
	if err := json.Unmarshal(body, &in); err != nil {
		return fmt.Errorf("decode design lead: %w: %w", apperr.ErrBadPayload, err)
	}

	addr := &model.Address{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Address1:  in.Address,
		City:      in.City,
		Province:  in.State,
		Zip:       in.Zip,
		Phone:     in.Phone,
	}
	custNo, err := posting.ResolveCustomer(ctx, s.customers, in.Email, in.Phone, addr)
	if err != nil {
		return fmt.Errorf("design lead customer: %w", err)
	}

	lead := &model.DesignLead{
		CustNo:    custNo,
		FstNam:    addr.FirstName,
		LstNam:    addr.LastName,
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:     in.Phone,
		Timeline:  in.Timeline,
		Budget:    in.Budget,
		Interests: strings.Join(in.Interests, ", "),
		Comments:  in.Comments,
	}
	if err := s.leads.Create(ctx, lead); err != nil {
		return fmt.Errorf("insert design lead: %w", err)
	}
	log := s.logger.With("cust_no", custNo, "lead_id", lead.ID)

	note := fmt.Sprintf("New design lead: %s %s (%s). Timeline: %s, budget: %s.",
		lead.FstNam, lead.LstNam, cmp.Or(lead.Phone, lead.Email), lead.Timeline, lead.Budget)
	for _, phone := range s.salesTeam {
		guard(ctx, s.sink, "lead.sms_sales", func() error {
			_, err := s.texts.send(ctx, "", phone, note, "", "")
			return err
		})
	}

	if lead.Email != "" {
		guard(ctx, s.sink, "lead.email_customer", func() error {
			html, err := renderLeadMail(lead, s.storePhone)
			if err != nil {
				return err
			}
			return s.mailer.Send(ctx, client.Mail{
				To:      []string{lead.Email},
				Subject: "Thanks for reaching out about your design project",
				HTML:    html,
			})
		})
	}

	fields := leadFields(lead)
	guard(ctx, s.sink, "lead.print", func() error {
		return s.printer.Print(ctx, client.PrintJob{Kind: "design_lead", Title: lead.FstNam + " " + lead.LstNam, Fields: fields})
	})
	guard(ctx, s.sink, "lead.sheet", func() error {
		return s.sheet.Append(ctx, "design-leads", fields)
	})

	log.Info("design lead recorded")
	return nil
}

func leadFields(l *model.DesignLead) map[string]string {
	return map[string]string{
		"customer":   l.CustNo,
		"first_name": l.FstNam,
		"last_name":  l.LstNam,
		"email":      l.Email,
		"phone":      l.Phone,
		"timeline":   l.Timeline,
		"budget":     l.Budget,
		"interests":  l.Interests,
		"comments":   l.Comments,
	}
}

var leadMailTemplate = template.Must(template.New("lead").Parse(`<p>Hi {{.Lead.FstNam}},</p>
<p>Thanks for telling us about your project. A designer will be in touch within two business days.</p>
{{if .Lead.Interests}}<p>You mentioned: {{.Lead.Interests}}</p>{{end}}
{{if .StorePhone}}<p>Questions in the meantime? Call us at {{.StorePhone}}.</p>{{end}}`))

func renderLeadMail(l *model.DesignLead, storePhone string) (string, error) {
	var b bytes.Buffer
	err := leadMailTemplate.Execute(&b, struct {
		Lead       *model.DesignLead
		StorePhone string
	}{l, storePhone})
	if err != nil {
		return "", fmt.Errorf("render lead email: %w", err)
	}
	return b.String(), nil
}

