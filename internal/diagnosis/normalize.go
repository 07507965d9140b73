package diagnosis

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// RawProfile is the user-submitted profile before normalization. Everything
// arrives as strings from the form layer.
type RawProfile struct {
	Name              string `json:"name"`
	Country           string `json:"country"`
	State             string `json:"state"`
	City              string `json:"city"`
	Gender            string `json:"gender"`
	BirthYear         string `json:"birth_year"`
	Age               string `json:"age"`
	HeightCM          string `json:"height_cm"`
	WeightKG          string `json:"weight_kg"`
	DietaryPreference string `json:"dietary_preference"`
	MedicalHistory    string `json:"medical_history"`
	Allergies         string `json:"allergies"`
	Medications       string `json:"medications"`
	Conditions        string `json:"conditions"`
}

// SymptomForm is the raw symptom submission.
type SymptomForm struct {
	Symptoms string `json:"symptoms"`
	Duration string `json:"duration"`
}

// FileInput describes one attached file after upload. ExtractedText is filled
// by the external text-extraction collaborator for non-image files.
type FileInput struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	URL           string `json:"url"`
	ExtractedText string `json:"extracted_text"`
}

// Normalize converts raw submission data into the canonical pipeline input.
// At most one attached file becomes the medical report: images keep only an
// image reference, anything else keeps extracted text.
func Normalize(userID string, profile RawProfile, form SymptomForm, files []FileInput) (UserInput, error) {
	if strings.TrimSpace(userID) == "" {
		return UserInput{}, &ValidationError{Field: "user_id", Msg: "must not be empty"}
	}

	symptoms := SplitSymptoms(form.Symptoms)
	if len(symptoms) == 0 {
		return UserInput{}, &ValidationError{Field: "symptoms", Msg: "at least one symptom is required"}
	}

	in := UserInput{
		Name:              strings.TrimSpace(profile.Name),
		Country:           strings.TrimSpace(profile.Country),
		State:             strings.TrimSpace(profile.State),
		City:              strings.TrimSpace(profile.City),
		Gender:            strings.TrimSpace(profile.Gender),
		DietaryPreference: strings.TrimSpace(profile.DietaryPreference),
		Symptoms:          symptoms,
		Duration:          strings.TrimSpace(form.Duration),
		MedicalHistory:    strings.TrimSpace(profile.MedicalHistory),
		Allergies:         strings.TrimSpace(profile.Allergies),
		Medications:       strings.TrimSpace(profile.Medications),
		Conditions:        strings.TrimSpace(profile.Conditions),
	}

	if by, err := strconv.Atoi(strings.TrimSpace(profile.BirthYear)); err == nil && by > 1900 {
		in.BirthYear = by
		in.Age = time.Now().Year() - by
	} else if age, err := strconv.Atoi(strings.TrimSpace(profile.Age)); err == nil && age > 0 {
		in.Age = age
	}

	height, herr := strconv.ParseFloat(strings.TrimSpace(profile.HeightCM), 64)
	weight, werr := strconv.ParseFloat(strings.TrimSpace(profile.WeightKG), 64)
	if herr == nil && height > 0 {
		in.HeightCM = height
	}
	if werr == nil && weight > 0 {
		in.WeightKG = weight
	}
	if in.HeightCM > 0 && in.WeightKG > 0 {
		in.BMI = ComputeBMI(in.HeightCM, in.WeightKG)
	}

	if len(files) > 0 {
		in.Report = reportFromFile(files[0])
	}

	return in, nil
}

// SplitSymptoms turns a comma-separated free-text list into trimmed,
// non-empty symptom strings.
func SplitSymptoms(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ComputeBMI returns weight(kg) / height(m)^2, rounded to one decimal.
func ComputeBMI(heightCM, weightKG float64) float64 {
	m := heightCM / 100
	return math.Round(weightKG/(m*m)*10) / 10
}

func reportFromFile(f FileInput) *MedicalReport {
	if strings.HasPrefix(f.Type, "image/") {
		// Image reports carry only the reference; never extracted text
		// alongside, to keep the model input unambiguous.
		return &MedicalReport{ImageURL: f.URL, Name: f.Name, Type: f.Type}
	}
	return &MedicalReport{Text: f.ExtractedText, Name: f.Name, Type: f.Type, URL: f.URL}
}
