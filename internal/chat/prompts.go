package chat

import (
	"fmt"
	"strings"
)

// Specialty selects the preset system prompt of the assistant.
type Specialty string

const (
	SpecialtyGeneral     Specialty = "general"
	SpecialtyRadiology   Specialty = "radiology"
	SpecialtyCardiology  Specialty = "cardiology"
	SpecialtyNeurology   Specialty = "neurology"
	SpecialtyDermatology Specialty = "dermatology"
	SpecialtyGynecology  Specialty = "gynecology"
)

var specialtyPrompts = map[Specialty]string{
	SpecialtyGeneral:     "You are an expert general practitioner in clinical medicine.",
	SpecialtyRadiology:   "You are an expert radiologist specialized in the interpretation of medical images.",
	SpecialtyCardiology:  "You are an expert cardiologist in cardiovascular diagnosis and treatment.",
	SpecialtyNeurology:   "You are an expert neurologist in the nervous system and neurological disorders.",
	SpecialtyDermatology: "You are an expert dermatologist in diseases of the skin.",
	SpecialtyGynecology:  "You are an expert gynecologist in women's and reproductive health.",
}

const promptGuidelines = `Guidelines:
- Be professional, precise and empathetic.
- Provide evidence-based medical information.
- If a question falls outside your specialty, refer it appropriately.
- Do not give definitive diagnoses without an in-person evaluation.
- Recommend an in-person consultation with a physician when relevant.`

// ParseSpecialty validates a specialty name. An empty name selects SpecialtyGeneral.
func ParseSpecialty(name string) (Specialty, error) {
	if name == "" {
		return SpecialtyGeneral, nil
	}
	s := Specialty(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := specialtyPrompts[s]; !ok {
		return "", fmt.Errorf("unknown specialty: %s", name)
	}
	return s, nil
}

// SystemPrompt builds the preset system prompt for a specialty. When language is not empty the
// assistant is instructed to always answer in it.
func SystemPrompt(specialty Specialty, language string) string {
	base, ok := specialtyPrompts[specialty]
	if !ok {
		base = specialtyPrompts[SpecialtyGeneral]
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n")
	sb.WriteString(promptGuidelines)
	if language != "" {
		sb.WriteString("\n- Always answer in ")
		sb.WriteString(language)
		sb.WriteString(".")
	}
	return sb.String()
}
