package ocr

import (
	"context"
	"image"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// lookalikes maps letters OCR engines commonly emit for seven-segment digits.
var lookalikes = map[rune]rune{
	'O': '0', 'o': '0', 'D': '0', 'Q': '0',
	'I': '1', 'l': '1', '|': '1', 'i': '1',
	'Z': '2', 'z': '2',
	'S': '5', 's': '5',
	'G': '6', 'b': '6',
	'T': '7',
	'B': '8',
	'g': '9', 'q': '9',
}

// ExtractDigits folds compatibility and fullwidth forms to ASCII and
// returns the decimal digits of text in order. Letters that resemble digits
// are mapped only when they touch a real digit, so words stay out of the
// result.
func ExtractDigits(text string) string {
	text = width.Narrow.String(norm.NFKC.String(text))
	runes := []rune(text)

	var sb strings.Builder
	for i, r := range runes {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		} else if d, ok := lookalikes[r]; ok && touchesDigit(runes, i) {
			sb.WriteRune(d)
		}
	}
	return sb.String()
}

func touchesDigit(runes []rune, i int) bool {
	isD := func(j int) bool { return j >= 0 && j < len(runes) && runes[j] >= '0' && runes[j] <= '9' }
	return isD(i-1) || isD(i+1)
}

// ReadDigits runs the backend on img and extracts the digit string.
func ReadDigits(ctx context.Context, b Backend, img image.Image, opts Options) (string, error) {
	if b == nil {
		return "", ErrNoBackend
	}
	text, err := b.Recognize(ctx, img, opts)
	if err != nil {
		return "", err
	}
	return ExtractDigits(text), nil
}
