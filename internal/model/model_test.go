package model

import "testing"

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   Category
	}{
		{name: "customer id", userID: "cu000001", want: CategoryCustomer},
		{name: "franchise id", userID: "fr000005", want: CategoryFranchise},
		{name: "bare customer prefix", userID: "cu", want: CategoryCustomer},
		{name: "unknown prefix", userID: "ad000001", want: ""},
		{name: "empty id", userID: "", want: ""},
		{name: "prefix anywhere else does not count", userID: "xcu00001", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCategory(tt.userID); got != tt.want {
				t.Fatalf("DetectCategory(%q) = %q, want %q", tt.userID, got, tt.want)
			}
		})
	}
}

func TestFormatUserID(t *testing.T) {
	tests := []struct {
		category Category
		n        int64
		want     string
	}{
		{CategoryCustomer, 1, "cu000001"},
		{CategoryCustomer, 42, "cu000042"},
		{CategoryFranchise, 5, "fr000005"},
		{CategoryFranchise, 999999, "fr999999"},
		{CategoryFranchise, 1000000, "fr1000000"},
	}

	for _, tt := range tests {
		if got := FormatUserID(tt.category, tt.n); got != tt.want {
			t.Fatalf("FormatUserID(%q, %d) = %q, want %q", tt.category, tt.n, got, tt.want)
		}
	}
}

func TestFormatAndDetectRoundTrip(t *testing.T) {
	for _, c := range []Category{CategoryCustomer, CategoryFranchise} {
		id := FormatUserID(c, 7)
		if got := DetectCategory(id); got != c {
			t.Fatalf("DetectCategory(FormatUserID(%q)) = %q", c, got)
		}
	}
}
