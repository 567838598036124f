package deal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"TrackDeal/logger"
	"TrackDeal/model"

	"github.com/fsnotify/fsnotify"
)

const defaultTemplateName = "standard-deal"

const defaultTemplate = `MUSIC LICENSING AGREEMENT
Reference: offer {{.OfferID}} version {{.OfferVersion}}
Template: {{.TemplateVersion}}
Date: {{.Date}}

PARTIES
This agreement is made between the Platform and the Producer (user {{.ProducerID}})
for the musical work "{{.TrackTitle}}"{{if .TrackArtist}} performed by {{.TrackArtist}}{{end}}.

1. DEAL TYPE
{{.DealTypeLabel}}

2. COMMERCIAL TERMS
{{- if .BuyoutAmount}}
Buyout amount: {{.BuyoutAmount}}, paid once in full consideration of the rights granted.
{{- end}}
{{- if .ProducerSplit}}
Producer share of net revenue: {{.ProducerSplit}}%
Platform share of net revenue: {{.PlatformSplit}}%
{{- end}}
{{- if .MarketingBudget}}
Marketing budget to recoup before revenue is shared: {{.MarketingBudget}}
{{- end}}

3. TERM AND TERRITORY
Term: {{.TermMonths}} months from the date of full execution.
Territory: {{.Territory}}
Exclusivity: {{if .Exclusive}}exclusive{{else}}non-exclusive{{end}}

4. EXECUTION
This agreement becomes binding once signed by the Producer and by an
authorised representative of the Platform. Signature blocks appended below
form part of this agreement.
`

// ContractData is the value the contract template renders.
type ContractData struct {
	OfferID         int64
	OfferVersion    int
	TemplateVersion string
	Date            string
	ProducerID      int64
	TrackTitle      string
	TrackArtist     string
	DealTypeLabel   string
	BuyoutAmount    string
	ProducerSplit   string
	PlatformSplit   string
	MarketingBudget string
	TermMonths      int
	Territory       string
	Exclusive       bool
}

func newContractData(track *model.Track, offer *model.Offer, generatedAt time.Time) ContractData {
	terms := offer.EffectiveTerms()
	d := ContractData{
		OfferID:      offer.ID,
		OfferVersion: offer.Version,
		Date:         generatedAt.UTC().Format("2006-01-02"),
		ProducerID:   track.UserID,
		TrackTitle:   track.Title,
		TrackArtist:  track.Artist,
		TermMonths:   terms.TermMonths,
		Territory:    terms.Territory,
		Exclusive:    terms.Exclusive,
	}
	switch offer.DealType {
	case model.DealBuyout:
		d.DealTypeLabel = "Buyout: the Producer assigns the rights for a single fixed payment."
	case model.DealRevenueSplit:
		d.DealTypeLabel = "Revenue split: net revenue is shared between the parties."
	case model.DealRecoupment:
		d.DealTypeLabel = "Recoupment: the Platform recoups its marketing spend before revenue is shared."
	}
	if terms.BuyoutAmountCents != nil {
		d.BuyoutAmount = formatCents(*terms.BuyoutAmountCents)
	}
	if terms.ProducerSplit != nil && terms.PlatformSplit != nil {
		d.ProducerSplit = fmt.Sprint(*terms.ProducerSplit)
		d.PlatformSplit = fmt.Sprint(*terms.PlatformSplit)
	}
	if terms.MarketingBudgetCents != nil {
		d.MarketingBudget = formatCents(*terms.MarketingBudgetCents)
	}
	return d
}

func formatCents(c int64) string {
	return fmt.Sprintf("USD %d.%02d", c/100, c%100)
}

// TemplateStore holds the active contract template. When loaded from a
// file it can be watched and reloaded; a template that fails to parse
// leaves the previous one in place.
type TemplateStore struct {
	mu      sync.RWMutex
	tmpl    *template.Template
	version string
	path    string
}

// NewTemplateStore loads the template at path, or the built-in template
// when path is empty.
func NewTemplateStore(path string) (*TemplateStore, error) {
	s := &TemplateStore{path: path}
	if path == "" {
		if err := s.set(defaultTemplateName, defaultTemplate); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TemplateStore) set(name, text string) error {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("parse contract template %s: %w", name, err)
	}
	sum := sha256.Sum256([]byte(text))
	s.mu.Lock()
	s.tmpl = t
	s.version = name + "@" + hex.EncodeToString(sum[:])[:12]
	s.mu.Unlock()
	return nil
}

func (s *TemplateStore) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read contract template: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	return s.set(name, string(raw))
}

// Version identifies the active template: its name plus a short content hash.
func (s *TemplateStore) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Render executes the active template. The returned version is the one
// used, even if a reload races with the call.
func (s *TemplateStore) Render(data ContractData) (string, string, error) {
	s.mu.RLock()
	t, version := s.tmpl, s.version
	s.mu.RUnlock()

	data.TemplateVersion = version
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render contract template: %w", err)
	}
	return buf.String(), version, nil
}

// Watch reloads the template whenever its file changes, until ctx ends.
// It is a no-op for the built-in template.
func (s *TemplateStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if err := s.reload(); err != nil {
					logger.Warn("contract template reload failed, keeping previous version", logger.ErrorField(err))
					continue
				}
				logger.Info("contract template reloaded", logger.String("version", s.Version()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("template watcher error", logger.ErrorField(err))
			}
		}
	}()
	return nil
}
