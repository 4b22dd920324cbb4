package accounting

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mediacache/mediacache/cache"
	testutils "github.com/mediacache/mediacache/utils"
)

type fakeSizer struct {
	size    int64
	scan    int64
	scanErr error
}

func (f *fakeSizer) SizeBytes() int64 {
	return f.size
}

func (f *fakeSizer) ScanBytes(ctx context.Context) (int64, error) {
	return f.scan, f.scanErr
}

func TestFormatBytes(t *testing.T) {
	tcs := []struct {
		n        int64
		expected string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5000, "4.9 KB"},
		{1024*1024 - 1, "1024.0 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3072.0 MB"},
	}

	for _, tc := range tcs {
		if got := FormatBytes(tc.n); got != tc.expected {
			t.Errorf("FormatBytes(%d): expected %q, got %q", tc.n, tc.expected, got)
		}
	}
}

func TestNewComputesTotal(t *testing.T) {
	s := New([cache.NumCategories]int64{1, 2, 3, 4, 5, 6})

	expected := Snapshot{
		PostsImages: 1,
		Avatars:     2,
		Banners:     3,
		Tracks:      4,
		Badges:      5,
		MusicCovers: 6,
		Total:       21,
	}

	if diff := cmp.Diff(expected, s); diff != "" {
		t.Fatalf("Unexpected snapshot (-want +got):\n%s", diff)
	}

	for i, kind := range cache.Categories {
		testutils.AssertEquals(t, int64(i+1), s.Get(kind))
	}
}

func TestAccountantSnapshot(t *testing.T) {
	var segments [cache.NumCategories]Sizer
	for i := range segments {
		segments[i] = &fakeSizer{size: int64(100 * (i + 1))}
	}

	a := NewAccountant(segments, testutils.NewSilentLogger())
	s := a.Snapshot()

	testutils.AssertEquals(t, int64(100), s.PostsImages)
	testutils.AssertEquals(t, int64(600), s.MusicCovers)
	testutils.AssertEquals(t, int64(2100), s.Total)
}

func TestAccountantScanFaultContributesZero(t *testing.T) {
	var segments [cache.NumCategories]Sizer
	for i := range segments {
		segments[i] = &fakeSizer{scan: 10}
	}
	segments[cache.Banners] = &fakeSizer{scan: 999, scanErr: errors.New("permission denied")}

	a := NewAccountant(segments, testutils.NewSilentLogger())
	s := a.ScanSnapshot(context.Background())

	testutils.AssertEquals(t, int64(0), s.Banners)
	testutils.AssertEquals(t, int64(10), s.Avatars)
	testutils.AssertEquals(t, int64(50), s.Total)
}

func TestFormatted(t *testing.T) {
	s := New([cache.NumCategories]int64{0, 5000, 0, 0, 0, 0})
	f := s.Formatted()

	testutils.AssertEquals(t, "4.9 KB", f["avatars"])
	testutils.AssertEquals(t, "0 bytes", f["banners"])
	testutils.AssertEquals(t, "4.9 KB", f["total"])
}
