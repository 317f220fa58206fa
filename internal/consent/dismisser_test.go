package consent

import (
	"context"
	"testing"

	"github.com/jmylchreest/xcheck/internal/browser/browsertest"
)

func TestDismisser_Dismiss(t *testing.T) {
	tests := []struct {
		name string
		html string
		want int
	}{
		{
			name: "no overlays",
			html: `<main><article data-testid="tweet"></article></main>`,
			want: 0,
		},
		{
			name: "cookie sheet",
			html: `<div data-testid="BottomBar"><button>Accept all cookies</button><button>Refuse non-essential cookies</button></div>`,
			want: 1,
		},
		{
			name: "cookie sheet and nag dialog",
			html: `<div data-testid="BottomBar"><button>Refuse non-essential cookies</button></div>
				<div data-testid="sheetDialog"><div data-testid="app-bar-close" role="button"></div></div>`,
			want: 2,
		},
		{
			name: "hidden close is skipped",
			html: `<div role="dialog"><div aria-label="Close" style="display: none"></div></div>`,
			want: 0,
		},
	}

	d := NewDismisser(browsertest.Logger()).WithTimings(0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage(tt.html)
			if got := d.Dismiss(context.Background(), page); got != tt.want {
				t.Errorf("Dismiss() = %d, want %d (clicks %v)", got, tt.want, page.Clicks)
			}
		})
	}
}
