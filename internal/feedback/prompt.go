package feedback

import (
	"strings"
	"sync/atomic"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
)

// Template placeholders.
const (
	PlaceholderTranscript = "{transcript}"
	PlaceholderLanguage   = "{language}"
)

// Templates is the prompt pair used for one locale.
type Templates struct {
	Prompt string `yaml:"prompt"`
	System string `yaml:"system"`
}

// FormatTranscript serialises turns one per line as "- role: content".
func FormatTranscript(turns []interview.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("- ")
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// Render substitutes the serialised transcript and the language name into
// tmpl. Every occurrence of each placeholder is replaced.
func Render(tmpl, transcript string, lang interview.Language) string {
	r := strings.NewReplacer(
		PlaceholderTranscript, transcript,
		PlaceholderLanguage, lang.Name(),
	)
	return r.Replace(tmpl)
}

// DefaultTemplates returns the built-in templates per language.
func DefaultTemplates() map[interview.Language]Templates {
	return map[interview.Language]Templates{
		interview.English: {
			Prompt: `You are an AI interviewer analyzing a mock interview. Evaluate the candidate thoroughly and be strict: do not be lenient, and point out every mistake or area for improvement.

Transcript:
{transcript}

Score the candidate from 0 to 100 in exactly these categories:
- Communication Skills: clarity, articulation, structured responses.
- Technical Knowledge: understanding of key concepts for the role.
- Problem Solving: ability to analyze problems and propose solutions.
- Cultural Fit: alignment with company values and the job role.
- Confidence and Clarity: confidence in responses, engagement, and clarity.

When the candidate describes past experiences, also assess whether the answers follow the STAR structure (Situation, Task, Action, Result), list the missing elements and rewrite one answer as an improved example.`,
			System: `You are a professional interviewer analyzing a mock interview. Your task is to evaluate the candidate based on structured categories. Write every comment, strength and recommendation in {language}.`,
		},
		interview.Spanish: {
			Prompt: `Eres un entrevistador que analiza una entrevista de práctica. Evalúa al candidato a fondo y con rigor: no seas indulgente y señala cada error o área de mejora.

Transcripción:
{transcript}

Puntúa al candidato de 0 a 100 exactamente en estas categorías (usa los nombres en inglés tal cual):
- Communication Skills: claridad, articulación, respuestas estructuradas.
- Technical Knowledge: comprensión de los conceptos clave del puesto.
- Problem Solving: capacidad de analizar problemas y proponer soluciones.
- Cultural Fit: alineación con los valores de la empresa y el puesto.
- Confidence and Clarity: seguridad, participación y claridad.

Cuando el candidato describa experiencias pasadas, evalúa también si sus respuestas siguen la estructura STAR (Situación, Tarea, Acción, Resultado), enumera los elementos que faltan y reescribe una respuesta como ejemplo mejorado.`,
			System: `Eres un entrevistador profesional que analiza una entrevista de práctica. Tu tarea es evaluar al candidato según categorías estructuradas. Escribe todos los comentarios, fortalezas y recomendaciones en {language}.`,
		},
	}
}

// TemplateSet holds the active templates per language and can be swapped
// atomically on config reload.
type TemplateSet struct {
	m atomic.Pointer[map[interview.Language]Templates]
}

// NewTemplateSet returns a set seeded with [DefaultTemplates] overlaid by
// overrides. Empty override fields keep the default.
func NewTemplateSet(overrides map[interview.Language]Templates) *TemplateSet {
	s := &TemplateSet{}
	s.Replace(overrides)
	return s
}

// Replace installs a new overlay on top of the defaults.
func (s *TemplateSet) Replace(overrides map[interview.Language]Templates) {
	m := DefaultTemplates()
	for lang, t := range overrides {
		cur := m[lang]
		if t.Prompt != "" {
			cur.Prompt = t.Prompt
		}
		if t.System != "" {
			cur.System = t.System
		}
		m[lang] = cur
	}
	s.m.Store(&m)
}

// For returns the templates for lang, falling back to English.
func (s *TemplateSet) For(lang interview.Language) Templates {
	m := *s.m.Load()
	if t, ok := m[lang]; ok {
		return t
	}
	return m[interview.English]
}
