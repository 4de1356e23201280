package session

import (
	"strings"
	"time"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

// Tool names offered to the voice model.
const (
	EndEarlyTool = "end_interview_early"
	EndCallTool  = "end_call"
)

// QuestionsVariable is the assistant-instruction variable filled with the
// interview's question list.
const QuestionsVariable = "questions"

// DefaultTranscriberModel is used when a persona names none.
const DefaultTranscriberModel = "gpt-4o-transcribe"

// Persona is the interviewer configuration for one language.
type Persona struct {
	Name             string `yaml:"name"`
	Voice            string `yaml:"voice"`
	FirstMessage     string `yaml:"first_message"`
	SystemPrompt     string `yaml:"system_prompt"`
	TranscriberModel string `yaml:"transcriber_model"`
}

// Personas maps each language to its interviewer.
type Personas map[interview.Language]Persona

// DefaultPersonas returns the built-in English and Spanish interviewers.
func DefaultPersonas() Personas {
	return Personas{
		interview.English: {
			Name:  "Interviewer",
			Voice: "sarah",
			FirstMessage: "Hello! Thank you for taking the time to speak with me today. " +
				"I'm excited to learn more about you and your experience.",
			SystemPrompt:     englishSystemPrompt,
			TranscriberModel: DefaultTranscriberModel,
		},
		interview.Spanish: {
			Name:  "Entrevistador",
			Voice: "maria",
			FirstMessage: "¡Hola! Gracias por tomar el tiempo de hablar conmigo hoy. " +
				"Estoy emocionado de conocer más sobre ti y tu experiencia.",
			SystemPrompt:     spanishSystemPrompt,
			TranscriberModel: DefaultTranscriberModel,
		},
	}
}

// Merge returns ps with the non-empty fields of overrides applied.
func (ps Personas) Merge(overrides Personas) Personas {
	out := make(Personas, len(ps))
	for lang, p := range ps {
		out[lang] = p
	}
	for lang, o := range overrides {
		p := out[lang]
		if o.Name != "" {
			p.Name = o.Name
		}
		if o.Voice != "" {
			p.Voice = o.Voice
		}
		if o.FirstMessage != "" {
			p.FirstMessage = o.FirstMessage
		}
		if o.SystemPrompt != "" {
			p.SystemPrompt = o.SystemPrompt
		}
		if o.TranscriberModel != "" {
			p.TranscriberModel = o.TranscriberModel
		}
		out[lang] = p
	}
	return out
}

// For returns the persona for lang, falling back to English.
func (ps Personas) For(lang interview.Language) Persona {
	if p, ok := ps[lang]; ok {
		return p
	}
	return ps[interview.English]
}

// Assistant builds the voice assistant for lang and style. The instructions
// still contain the {{questions}} variable; see [Variables].
func (ps Personas) Assistant(lang interview.Language, style interview.Style, maxDuration time.Duration) voice.Assistant {
	p := ps.For(lang)
	model := p.TranscriberModel
	if model == "" {
		model = DefaultTranscriberModel
	}
	instructions := p.SystemPrompt
	if g := styleGuidance(lang, style); g != "" {
		instructions += "\n\n" + g
	}
	return voice.Assistant{
		Name:                p.Name,
		FirstMessage:        p.FirstMessage,
		Voice:               p.Voice,
		Instructions:        instructions,
		TranscriberModel:    model,
		TranscriberLanguage: string(lang),
		Tools:               []voice.Tool{endEarlyTool(), endCallTool()},
		EndCallTool:         EndCallTool,
		MaxDuration:         maxDuration,
	}
}

// Variables returns the assistant variables for questions.
func Variables(questions []string) map[string]string {
	return map[string]string{QuestionsVariable: FormatQuestions(questions)}
}

// FormatQuestions renders questions as "- question" lines.
func FormatQuestions(questions []string) string {
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			lines = append(lines, "- "+q)
		}
	}
	return strings.Join(lines, "\n")
}

func endEarlyTool() voice.Tool {
	reasons := make([]any, len(Reasons))
	for i, r := range Reasons {
		reasons[i] = string(r)
	}
	return voice.Tool{
		Name: EndEarlyTool,
		Description: "End the interview before all questions are covered. Use only when the candidate " +
			"asks to stop, cannot continue because of technical problems, or shows no interest.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type": "string",
					"enum": reasons,
				},
			},
			"required": []any{"reason"},
		},
	}
}

func endCallTool() voice.Tool {
	return voice.Tool{
		Name:        EndCallTool,
		Description: "Hang up after the closing remarks once every question has been covered.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func styleGuidance(lang interview.Language, style interview.Style) string {
	if lang == interview.Spanish {
		switch style {
		case interview.StyleTechnical:
			return "Enfoque: entrevista técnica. Profundiza en los detalles de implementación y pide ejemplos concretos de código o arquitectura."
		case interview.StyleBehavioral:
			return "Enfoque: entrevista conductual. Pide situaciones reales y guía al candidato a describir la situación, la tarea, la acción y el resultado."
		case interview.StyleMixed:
			return "Enfoque: entrevista mixta. Equilibra preguntas técnicas con preguntas sobre experiencias y trabajo en equipo."
		}
		return ""
	}
	switch style {
	case interview.StyleTechnical:
		return "Focus: technical interview. Probe implementation details and ask for concrete examples of code or architecture."
	case interview.StyleBehavioral:
		return "Focus: behavioral interview. Ask for real situations and guide the candidate to describe the situation, task, action and result."
	case interview.StyleMixed:
		return "Focus: mixed interview. Balance technical questions with questions about past experience and teamwork."
	}
	return ""
}

const englishSystemPrompt = `You are a professional job interviewer conducting a real-time voice interview with a candidate. Your goal is to assess their qualifications, motivation, and fit for the role.

Interview guidelines:
Follow the structured question flow:
{{questions}}

Listen actively and acknowledge answers before moving on.
Ask brief follow-up questions when an answer is vague.
Keep the conversation flowing while staying in control.
Use official yet friendly language and avoid robotic phrasing.
If asked about the role or company, answer clearly; if unsure, refer the candidate to HR.

When every question is covered, thank the candidate, tell them the company will follow up with feedback, and end the call.

This is a voice conversation. Keep every response short.`

const spanishSystemPrompt = `Eres un entrevistador profesional que realiza una entrevista de voz en tiempo real con un candidato. Tu objetivo es evaluar sus calificaciones, motivación y ajuste para el puesto.

Pautas de la entrevista:
Sigue el flujo estructurado de preguntas:
{{questions}}

Escucha activamente y reconoce las respuestas antes de continuar.
Haz preguntas de seguimiento breves si una respuesta es vaga.
Mantén la conversación fluida sin perder el control.
Usa un lenguaje oficial pero amigable y evita frases robóticas.
Si te preguntan por el puesto o la empresa, responde con claridad; si no estás seguro, remite al candidato a RRHH.

Cuando hayas cubierto todas las preguntas, agradece al candidato, infórmale que la empresa se pondrá en contacto con retroalimentación y termina la llamada.

Esta es una conversación de voz. Mantén todas tus respuestas cortas.`
