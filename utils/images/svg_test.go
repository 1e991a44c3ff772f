package images

import (
	"errors"
	"testing"
)

func TestRasterizeSVG(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 50"><rect x="10" y="10" width="20" height="20" fill="black"/></svg>`)

	t.Run("intrinsic", func(t *testing.T) {
		img, size, err := RasterizeSVG(svg, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
			t.Fatalf("unexpected bounds: %v", img.Bounds())
		}
		if size.W != 100 || size.H != 50 {
			t.Fatalf("unexpected size: %+v", size)
		}
	})

	t.Run("scale_by_width", func(t *testing.T) {
		img, _, err := RasterizeSVG(svg, 800)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 400 {
			t.Fatalf("unexpected bounds: %v", img.Bounds())
		}
	})

	t.Run("transparent_background", func(t *testing.T) {
		img, _, err := RasterizeSVG(svg, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a := img.RGBAAt(90, 40).A; a != 0 {
			t.Errorf("background alpha = %d, want 0", a)
		}
		if a := img.RGBAAt(20, 20).A; a != 0xFF {
			t.Errorf("shape alpha = %d, want 255", a)
		}
	})

	t.Run("width_height_attributes", func(t *testing.T) {
		img, _, err := RasterizeSVG([]byte(`<svg xmlns="http://www.w3.org/2000/svg" width="30" height="60"></svg>`), 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 60 {
			t.Fatalf("unexpected bounds: %v", img.Bounds())
		}
	})

	t.Run("intrinsic_clamped", func(t *testing.T) {
		img, _, err := RasterizeSVG([]byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 10000"></svg>`), 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b := img.Bounds(); b.Dy() > maxRasterDim || b.Dx() != 81 {
			t.Fatalf("unexpected bounds: %v", b)
		}
	})

	t.Run("width_kept", func(t *testing.T) {
		_, _, err := RasterizeSVG([]byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 1000"></svg>`), 1000)
		if !errors.Is(err, ErrSVGTooLarge) {
			t.Fatalf("error = %v, want %v", err, ErrSVGTooLarge)
		}
	})
}

func TestSVG_RasterizeBand(t *testing.T) {
	s, err := ParseSVG([]byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 2000">
<rect x="0" y="1500" width="100" height="10" fill="black"/>
</svg>`))
	if err != nil {
		t.Fatalf("ParseSVG() error = %v", err)
	}
	if h := s.HeightAt(400); h != 8000 {
		t.Fatalf("HeightAt(400) = %d, want 8000", h)
	}

	tests := []struct {
		name     string
		top, h   int
		wantH    int
		strokeAt int
	}{
		// stroke at 6000..6040 when scaled to 400 wide
		{"middle", 5900, 200, 200, 120},
		{"tail clamped", 7900, 500, 100, -1},
		{"past end", 9000, 100, 1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := s.Rasterize(400, tt.top, tt.h)
			if err != nil {
				t.Fatalf("Rasterize() error = %v", err)
			}
			if b := img.Bounds(); b.Dx() != 400 || b.Dy() != tt.wantH {
				t.Fatalf("bounds = %v, want 400x%d", b, tt.wantH)
			}
			if tt.strokeAt >= 0 {
				if a := img.RGBAAt(200, tt.strokeAt).A; a != 0xFF {
					t.Errorf("stroke alpha = %d, want 255", a)
				}
				if a := img.RGBAAt(200, 10).A; a != 0 {
					t.Errorf("background alpha = %d, want 0", a)
				}
			}
		})
	}
}

func TestRasterizeSVG_Empty(t *testing.T) {
	for _, data := range []string{
		`<svg xmlns="http://www.w3.org/2000/svg"></svg>`,
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 0 10"></svg>`,
		`<svg xmlns="http://www.w3.org/2000/svg" width="0" height="0"></svg>`,
	} {
		if _, _, err := RasterizeSVG([]byte(data), 800); !errors.Is(err, ErrEmptySVG) {
			t.Errorf("RasterizeSVG(%s) error = %v, want %v", data, err, ErrEmptySVG)
		}
	}
}

func TestRasterizeSVG_Garbage(t *testing.T) {
	if _, _, err := RasterizeSVG([]byte("definitely not xml <<<"), 800); err == nil {
		t.Error("expected error for garbage input")
	}
}
