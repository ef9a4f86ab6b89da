package security

import (
	"strings"
	"testing"
)

// TestSanitize_StripsMarkup はタグが除去され本文だけが残ることを検証する。
func TestSanitize_StripsMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name        string
		input       string
		wantContain string
		wantAbsent  []string
	}{
		{
			name:        "scriptタグが中身ごと除去される",
			input:       "こんにちは<script>alert('xss')</script>",
			wantContain: "こんにちは",
			wantAbsent:  []string{"<script", "alert"},
		},
		{
			name:        "装飾タグは除去され中身は残る",
			input:       "<b>太字</b>と<i>斜体</i>",
			wantContain: "太字と斜体",
			wantAbsent:  []string{"<b>", "<i>"},
		},
		{
			name:        "on*イベント属性を持つ要素が除去される",
			input:       `<img src="x" onerror="alert(1)">画像`,
			wantContain: "画像",
			wantAbsent:  []string{"onerror", "<img"},
		},
		{
			name:        "リンクはテキストだけ残る",
			input:       `<a href="javascript:alert(1)">リンク</a>`,
			wantContain: "リンク",
			wantAbsent:  []string{"javascript:", "<a"},
		},
		{
			name:        "iframeが除去される",
			input:       `<iframe src="https://evil.example"></iframe>本文`,
			wantContain: "本文",
			wantAbsent:  []string{"<iframe", "evil.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if !strings.Contains(got, tt.wantContain) {
				t.Errorf("Sanitize(%q) = %q, want to contain %q", tt.input, got, tt.wantContain)
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

// TestSanitize_EscapesSpecialCharacters はHTMLの特殊文字がエスケープされることを検証する。
func TestSanitize_EscapesSpecialCharacters(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.Sanitize(`a & b "quoted"`)
	if strings.Contains(got, `"`) {
		t.Errorf("double quote should be escaped: %q", got)
	}
	if !strings.Contains(got, "&amp;") {
		t.Errorf("ampersand should be escaped: %q", got)
	}
}

// TestSanitize_TrimsWhitespace は前後の空白が除去されることを検証する。
func TestSanitize_TrimsWhitespace(t *testing.T) {
	sanitizer := NewTextSanitizer()

	if got := sanitizer.Sanitize("  本文  \n"); got != "本文" {
		t.Errorf("Sanitize = %q, want %q", got, "本文")
	}
	if got := sanitizer.Sanitize("<p>   </p>"); got != "" {
		t.Errorf("markup-only input should become empty, got %q", got)
	}
}

// TestSanitize_PlainText はプレーンテキストがそのまま返ることを検証する。
func TestSanitize_PlainText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := "今日の学食はカレーでした"
	if got := sanitizer.Sanitize(input); got != input {
		t.Errorf("Sanitize(%q) = %q, want unchanged", input, got)
	}
}

// TestSanitize_Idempotent は同一入力に対して同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := "<div>テスト<script>x</script></div>"
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(input)
	if first != second {
		t.Errorf("Sanitize is not deterministic: %q vs %q", first, second)
	}
}
