package relay

import (
	"fmt"
	"strings"
	"testing"
)

func TestFormatCaption(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{name: "simple", tags: []string{"a", "b", "c"}, want: "🔖 <b>Tags</b>: a, b, c"},
		{name: "empty uses placeholder", tags: nil, want: "🔖 <b>Tags</b>: none"},
		{name: "escapes markup", tags: []string{"<3", "a&b", ">_<"}, want: "🔖 <b>Tags</b>: &lt;3, a&amp;b, &gt;_&lt;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCaption(tt.tags); got != tt.want {
				t.Fatalf("FormatCaption = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatCaptionLimitsTags(t *testing.T) {
	tags := make([]string, 80)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag%02d", i)
	}

	got := FormatCaption(tags)
	want := "🔖 <b>Tags</b>: " + strings.Join(tags[:maxCaptionTags], ", ")
	if got != want {
		t.Fatalf("FormatCaption = %q, want %q", got, want)
	}
	if strings.Contains(got, "tag50") {
		t.Fatal("caption must drop tags past the limit")
	}
	if n := strings.Count(got, ", ") + 1; n != maxCaptionTags {
		t.Fatalf("caption tag count = %d, want %d", n, maxCaptionTags)
	}
}
