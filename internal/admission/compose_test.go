package admission

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		tags     []string
		maxRunes int
		want     string
	}{
		{
			name:     "no tags",
			body:     "  hello world  ",
			maxRunes: 100,
			want:     "hello world",
		},
		{
			name:     "tags appended",
			body:     "hello",
			tags:     []string{"#AI", "#Tech"},
			maxRunes: 100,
			want:     "hello\n\n#AI #Tech",
		},
		{
			name:     "unlimited",
			body:     strings.Repeat("a", 5000),
			tags:     []string{"#AI"},
			maxRunes: 0,
			want:     strings.Repeat("a", 5000) + "\n\n#AI",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compose(tt.body, tt.tags, tt.maxRunes))
		})
	}
}

func TestCompose_TruncatesBodyKeepsTags(t *testing.T) {
	body := strings.Repeat("word ", 100)

	got := Compose(body, []string{"#AI"}, 200)

	assert.LessOrEqual(t, utf8.RuneCountInString(got), 200)
	assert.True(t, strings.HasSuffix(got, "...\n\n#AI"))
}

func TestCompose_DropsTagsWhenBodyTooShort(t *testing.T) {
	body := strings.Repeat("x", 300)
	tags := []string{strings.Repeat("#t", 60)}

	got := Compose(body, tags, 150)

	assert.Equal(t, 150, utf8.RuneCountInString(got))
	assert.NotContains(t, got, "#t")
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))

	got := Truncate("aaaaaaaaa bbbbbbbbb", 15)
	assert.Equal(t, "aaaaaaaaa bb...", got)

	got = Truncate(strings.Repeat("a", 25)+" "+strings.Repeat("b", 10), 30)
	assert.Equal(t, strings.Repeat("a", 25)+"...", got)
}

func TestTruncate_Unicode(t *testing.T) {
	got := Truncate(strings.Repeat("ž", 20), 10)

	assert.Equal(t, 10, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("ž", 7)+"...", got)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{}.withDefaults()

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(0))

	capped := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, Factor: 10, MaxDelay: 30 * time.Second}
	assert.Equal(t, 30*time.Second, capped.Delay(3))
}
