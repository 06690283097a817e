// Circulapp - Vehicle Circulation Permit Processing
// Copyright 2026 Circulapp Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/circulapp/circulapp

package portal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/circulapp/circulapp/internal/logging"
	"github.com/circulapp/circulapp/internal/permit"
)

// Config holds browser automation settings.
type Config struct {
	BaseURL      string
	Username     string
	Password     string
	Headless     bool
	PollInterval time.Duration
}

// Client drives the portal with a headless Chrome instance. Each
// Submit runs in a fresh browser context so sessions cannot leak state
// between applications.
type Client struct {
	cfg Config
}

// NewClient creates a portal client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("portal base URL required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("portal credentials required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Client{cfg: cfg}, nil
}

// Submit logs in, files the vehicle form and captures the four issued
// documents as PDFs. The caller bounds the whole session through ctx.
func (c *Client) Submit(ctx context.Context, app *permit.Application) (*Documents, error) {
	if err := ValidateApplication(app); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	start := time.Now()
	log := logging.Ctx(ctx).With().
		Int64("application_id", app.ID).
		Str("vin", app.Vehicle.VIN).
		Logger()

	if err := c.login(browserCtx); err != nil {
		return nil, Classify(err)
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("Portal login complete")

	folio, err := c.fileApplication(browserCtx, app)
	if err != nil {
		return nil, Classify(err)
	}
	log.Info().Str("folio", folio).Msg("Portal accepted submission")

	if err := c.awaitIssuance(browserCtx, folio); err != nil {
		return nil, Classify(err)
	}

	docs, err := c.captureDocuments(browserCtx, folio)
	if err != nil {
		return nil, Classify(err)
	}
	if err := docs.Validate(); err != nil {
		return nil, err
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("Portal documents captured")
	return docs, nil
}

func (c *Client) login(ctx context.Context) error {
	var errorText string
	err := chromedp.Run(ctx,
		chromedp.Navigate(c.cfg.BaseURL+"/login"),
		chromedp.WaitVisible(`#username`, chromedp.ByID),
		chromedp.SendKeys(`#username`, c.cfg.Username, chromedp.ByID),
		chromedp.SendKeys(`#password`, c.cfg.Password, chromedp.ByID),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.Evaluate(`document.querySelector('.login-error')?.textContent ?? ''`, &errorText),
	)
	if err != nil {
		return fmt.Errorf("portal login: %w", err)
	}
	if errorText != "" {
		// Bad credentials are an operator problem, not a retry problem.
		return NewPermanentError("portal login rejected: "+errorText, nil)
	}
	return nil
}

// fileApplication fills the circulation permit form and returns the
// folio number the portal assigns to the submission.
func (c *Client) fileApplication(ctx context.Context, app *permit.Application) (string, error) {
	var folio, rejection string
	err := chromedp.Run(ctx,
		chromedp.Navigate(c.cfg.BaseURL+"/tramites/permiso-circulacion/nuevo"),
		chromedp.WaitVisible(`#vin`, chromedp.ByID),
		chromedp.SendKeys(`#vin`, app.Vehicle.VIN, chromedp.ByID),
		chromedp.SendKeys(`#placa`, app.Vehicle.Plate, chromedp.ByID),
		chromedp.SendKeys(`#marca`, app.Vehicle.Make, chromedp.ByID),
		chromedp.SendKeys(`#modelo`, app.Vehicle.Model, chromedp.ByID),
		chromedp.SendKeys(`#anio`, strconv.Itoa(app.Vehicle.Year), chromedp.ByID),
		chromedp.SendKeys(`#propietario`, app.Vehicle.OwnerName, chromedp.ByID),
		chromedp.SendKeys(`#domicilio`, app.Vehicle.OwnerAddress, chromedp.ByID),
		chromedp.Click(`#enviar-solicitud`, chromedp.ByID),
		chromedp.WaitVisible(`.resultado`, chromedp.ByQuery),
		chromedp.Evaluate(`document.querySelector('.resultado .folio')?.textContent ?? ''`, &folio),
		chromedp.Evaluate(`document.querySelector('.resultado .rechazo')?.textContent ?? ''`, &rejection),
	)
	if err != nil {
		return "", fmt.Errorf("file application %d: %w", app.ID, err)
	}
	if rejection != "" {
		return "", NewPermanentError("portal rejected submission: "+rejection, nil)
	}
	if folio == "" {
		return "", NewTransientError("portal returned no folio", nil)
	}
	return folio, nil
}

// awaitIssuance polls the folio status page until every document shows
// as issued. The session context bounds how long we wait.
func (c *Client) awaitIssuance(ctx context.Context, folio string) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	statusURL := fmt.Sprintf("%s/tramites/folio/%s", c.cfg.BaseURL, folio)
	for {
		var state string
		err := chromedp.Run(ctx,
			chromedp.Navigate(statusURL),
			chromedp.WaitVisible(`.estado-tramite`, chromedp.ByQuery),
			chromedp.Evaluate(`document.querySelector('.estado-tramite')?.dataset?.estado ?? ''`, &state),
		)
		if err != nil {
			return fmt.Errorf("poll folio %s: %w", folio, err)
		}

		switch state {
		case "emitido":
			return nil
		case "rechazado":
			return NewPermanentError("portal rejected folio "+folio, nil)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("await issuance of folio %s: %w", folio, ctx.Err())
		case <-ticker.C:
		}
	}
}

// captureDocuments renders each issued document page to PDF.
func (c *Client) captureDocuments(ctx context.Context, folio string) (*Documents, error) {
	pages := []struct {
		slug string
		dest *[]byte
	}{
		{"permiso", nil},
		{"certificado", nil},
		{"placas", nil},
		{"recomendaciones", nil},
	}

	docs := &Documents{}
	pages[0].dest = &docs.Permit
	pages[1].dest = &docs.Certificate
	pages[2].dest = &docs.Plates
	pages[3].dest = &docs.Recommendations

	for _, p := range pages {
		url := fmt.Sprintf("%s/tramites/folio/%s/%s", c.cfg.BaseURL, folio, p.slug)
		err := chromedp.Run(ctx,
			chromedp.Navigate(url),
			chromedp.WaitReady(`body`, chromedp.ByQuery),
			chromedp.ActionFunc(func(ctx context.Context) error {
				buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
				if err != nil {
					return err
				}
				*p.dest = buf
				return nil
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("capture %s for folio %s: %w", p.slug, folio, err)
		}
	}

	return docs, nil
}
