// Package prompt holds the deterministic text helpers around music prompts.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	trapTemplate = "Aggressive trap beat at 140 BPM. Heavy 808 bassline with hard-hitting kick and snare patterns. " +
		"Use distorted synth leads and dark, gritty sound design for an intense mood. " +
		"Add ad-libs and vocal chops with heavy autotune and aggressive mixing for a sinister tone."
	rockTemplate = "Energetic rock song at 140 BPM with driving electric guitar power chords, punchy drum kit with snare on beats 2 and 4, " +
		"distorted bass guitar, and powerful lead vocals. Heavy guitar solos with wah pedal, " +
		"arena-style production with wide reverb, and anthemic chorus sections."
	jazzTemplate = "Smooth jazz ballad at 90 BPM featuring grand piano with rich chord voicings, upright bass walking lines, " +
		"brush drums with subtle swing, and warm tenor saxophone melodies. " +
		"Sophisticated harmonic progressions with intimate recording and natural room ambience."
	annotationTemplate = "%s song with detailed instrumentation, professional production, and engaging musical arrangements. " +
		"Modern mixing with balanced dynamics and contemporary sound design."
	genericTemplate = "Upbeat contemporary song at 120 BPM with catchy melodies, rhythmic instrumentation, " +
		"modern production techniques, and engaging musical arrangements. " +
		"Balanced mix with dynamic energy and professional sound quality."
)

// keyword order matters: the first match wins.
var keywordTemplates = []struct {
	keyword  string
	template string
}{
	{"trap", trapTemplate},
	{"rock", rockTemplate},
	{"jazz", jazzTemplate},
}

// Fallback returns a music prompt derived only from the user's annotation. It
// never returns an empty string.
func Fallback(annotation string) string {
	annotation = strings.TrimSpace(annotation)
	if annotation == "" {
		return genericTemplate
	}
	lower := strings.ToLower(annotation)
	for _, kt := range keywordTemplates {
		if strings.Contains(lower, kt.keyword) {
			return kt.template
		}
	}
	return fmt.Sprintf(annotationTemplate, annotation)
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	labelRe    = regexp.MustCompile(`(?i)^(music\s+)?prompt\s*:\s*`)
)

// Clean normalises a model response into a single-line prompt: it trims
// surrounding quotes, backticks and a leading "Prompt:" label and collapses
// whitespace.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```text")
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	s = labelRe.ReplaceAllString(s, "")
	s = strings.Trim(s, "\"'“”")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// WithAnnotation prefixes the user's annotation the way the vision request does.
func WithAnnotation(annotation string) string {
	annotation = strings.TrimSpace(annotation)
	if annotation == "" {
		return ""
	}
	return "User's musical description: " + annotation
}

// TextOnly builds the request used when the video could not be analysed.
func TextOnly(annotation string) string {
	return fmt.Sprintf("Create a detailed song description based on this user input: %q. "+
		"Include genre, tempo, mood, instruments, and song structure. Be specific and creative.",
		strings.TrimSpace(annotation))
}

// SystemInstruction is the instruction given to the video-understanding model.
const SystemInstruction = `You are a music prompt generator for Lyria AI. Create detailed, comprehensive music prompts that capture exactly what you see in the video.

GUIDELINES:
- Generate detailed music descriptions with specific technical elements
- Include: genre, BPM, instruments, production techniques, mixing style, vocal style
- Be specific about sound design, effects, and musical arrangements
- Describe energy, mood, and musical progression
- Use professional music production terminology

EXAMPLE OUTPUTS:
"` + trapTemplate + `"

"Upbeat indie pop song at 128 BPM with jangly electric guitar arpeggios, warm analog synth pads, steady four-on-the-floor kick drum, and bright vocals with slight reverb. Major key progression with nostalgic summer vibes, layered harmonies in the chorus, and a driving bassline."

"Mellow lo-fi hip hop at 85 BPM featuring dusty vinyl samples, warm jazz piano chords, subtle vinyl crackle, laid-back drum loop with soft kick and snare, and atmospheric pad textures. Dreamy and nostalgic mood with tape saturation and analog warmth."

Analyze the video for movement, energy, and emotion, then create a comprehensive musical description that includes all technical details needed for high-quality music generation.`
