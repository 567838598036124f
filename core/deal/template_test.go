package deal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"TrackDeal/model"
)

func TestTemplateRendersTermsPerDealType(t *testing.T) {
	s, err := NewTemplateStore("")
	if err != nil {
		t.Fatalf("NewTemplateStore() error = %v", err)
	}
	track := &model.Track{ID: 7, UserID: 10, Title: "Midnight Drive", Artist: "Jane Doe"}

	tests := []struct {
		name    string
		offer   *model.Offer
		want    []string
		notWant []string
	}{
		{
			name:    "buyout",
			offer:   &model.Offer{ID: 1, Version: 1, DealType: model.DealBuyout, Terms: buyoutTerms(1250050)},
			want:    []string{"Buyout amount: USD 12500.50", "Territory: US", "non-exclusive"},
			notWant: []string{"net revenue:"},
		},
		{
			name:    "revenue split",
			offer:   &model.Offer{ID: 2, Version: 3, DealType: model.DealRevenueSplit, Terms: splitTerms(60, 40)},
			want:    []string{"Producer share of net revenue: 60%", "Platform share of net revenue: 40%", "offer 2 version 3"},
			notWant: []string{"Buyout amount", "Marketing budget"},
		},
		{
			name: "recoupment",
			offer: &model.Offer{ID: 3, Version: 1, DealType: model.DealRecoupment, Terms: model.Terms{
				ProducerSplit: intPtr(50), PlatformSplit: intPtr(50), MarketingBudgetCents: centsPtr(200000),
				TermMonths: 36, Territory: "EU",
			}},
			want: []string{"Marketing budget to recoup before revenue is shared: USD 2000.00", "Term: 36 months"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, version, err := s.Render(newContractData(track, tt.offer, baseTime))
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if version != s.Version() {
				t.Fatalf("version = %q, want %q", version, s.Version())
			}
			for _, w := range tt.want {
				if !strings.Contains(body, w) {
					t.Errorf("body missing %q:\n%s", w, body)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(body, w) {
					t.Errorf("body unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestTemplateReloadKeepsLastGoodVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "studio-deal.tmpl")
	if err := os.WriteFile(path, []byte("AGREEMENT {{.OfferID}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewTemplateStore(path)
	if err != nil {
		t.Fatalf("NewTemplateStore() error = %v", err)
	}
	v1 := s.Version()
	if !strings.HasPrefix(v1, "studio-deal@") {
		t.Fatalf("version = %q", v1)
	}

	if err := os.WriteFile(path, []byte("AGREEMENT {{.OfferID\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.reload(); err == nil {
		t.Fatal("reload() accepted a broken template")
	}
	if s.Version() != v1 {
		t.Fatal("broken template replaced the active one")
	}

	if err := os.WriteFile(path, []byte("AGREEMENT v2 {{.OfferID}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.reload(); err != nil {
		t.Fatalf("reload() error = %v", err)
	}
	if s.Version() == v1 {
		t.Fatal("version unchanged after template edit")
	}
}

func TestTemplateWatchPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deal.tmpl")
	if err := os.WriteFile(path, []byte("ONE {{.OfferID}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewTemplateStore(path)
	if err != nil {
		t.Fatalf("NewTemplateStore() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	before := s.Version()

	if err := os.WriteFile(path, []byte("TWO {{.OfferID}}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for s.Version() == before {
		if time.Now().After(deadline) {
			t.Fatal("template was not reloaded after edit")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
