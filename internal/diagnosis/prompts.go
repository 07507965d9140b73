package diagnosis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt construction. Each stage sees the canonical patient input plus the
// structured outputs of all earlier stages, never later ones.

const jsonOnlyRule = `
RULES:
1. Maintain a calm, clinical tone. Do not alarm the patient.
2. Respond ONLY with valid JSON matching the RESPONSE FORMAT. Do not include any other text or explanation.
3. Always include a "disclaimer" field reminding the patient to consult a qualified healthcare provider.
`

func systemPrompt(role, mission string, fields []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s in an AI health-assessment pipeline. %s\n", role, mission)
	b.WriteString(jsonOnlyRule)
	b.WriteString("\nRESPONSE FORMAT:\n{\n")
	for i, f := range fields {
		b.WriteString("  \"" + f + "\": ...")
		if i < len(fields)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func patientBlock(in UserInput) string {
	var b strings.Builder
	b.WriteString("PATIENT PROFILE:\n")
	fmt.Fprintf(&b, "Name: %q\nGender: %q\nAge: %d\nLocation: %s, %s, %s\n", in.Name, in.Gender, in.Age, in.City, in.State, in.Country)
	if in.HeightCM > 0 && in.WeightKG > 0 {
		fmt.Fprintf(&b, "Height: %.0f cm, Weight: %.0f kg", in.HeightCM, in.WeightKG)
		if in.BMI > 0 {
			fmt.Fprintf(&b, ", BMI: %.1f", in.BMI)
		}
		b.WriteString("\n")
	}
	if in.DietaryPreference != "" {
		fmt.Fprintf(&b, "Dietary preference: %s\n", in.DietaryPreference)
	}
	fmt.Fprintf(&b, "Symptoms: %s\nDuration: %s\n", strings.Join(in.Symptoms, ", "), in.Duration)
	fmt.Fprintf(&b, "Medical history: %q\nAllergies: %q\nCurrent medications: %q\nKnown conditions: %q\n",
		in.MedicalHistory, in.Allergies, in.Medications, in.Conditions)
	return b.String()
}

func reportBlock(r *MedicalReport) string {
	if r == nil {
		return ""
	}
	if r.ImageURL != "" {
		return fmt.Sprintf("MEDICAL REPORT: an image report %q (%s) is attached at %s. Interpret the image directly.\n", r.Name, r.Type, r.ImageURL)
	}
	return fmt.Sprintf("MEDICAL REPORT (%s):\n%s\n", r.Name, r.Text)
}

// priorBlock renders the structured outputs of every populated stage before
// upto, in chain order.
func priorBlock(sess *Session, upto StageID) string {
	var b strings.Builder
	for id := StageMedicalAnalyst; id < upto; id++ {
		resp, ok := sess.Response(id)
		if !ok {
			continue
		}
		enc, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s FINDINGS:\n%s\n\n", strings.ToUpper(id.Title()), enc)
	}
	return b.String()
}

func userPrompt(sess *Session, stage StageID) string {
	var b strings.Builder
	b.WriteString(patientBlock(sess.Input))
	if stage == StageMedicalAnalyst {
		b.WriteString(reportBlock(sess.Input.Report))
	}
	if prior := priorBlock(sess, stage); prior != "" {
		b.WriteString("\nFINDINGS SO FAR:\n\n")
		b.WriteString(prior)
	}
	fmt.Fprintf(&b, "\nProvide your %s assessment now.", stage.Title())
	return b.String()
}
