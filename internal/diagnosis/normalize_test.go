package diagnosis

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestSplitSymptoms_TrimsAndDropsEmpties(t *testing.T) {
	got := SplitSymptoms("fever, cough ,  headache")
	want := []string{"fever", "cough", "headache"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := SplitSymptoms(" , ,"); len(got) != 0 {
		t.Fatalf("expected no symptoms, got %v", got)
	}
}

func TestComputeBMI(t *testing.T) {
	if got := ComputeBMI(180, 81); got != 25.0 {
		t.Fatalf("expected BMI 25.0, got %v", got)
	}
	if got := ComputeBMI(165, 58.5); got != 21.5 {
		t.Fatalf("expected BMI 21.5, got %v", got)
	}
}

func TestNormalize_FullProfile(t *testing.T) {
	in, err := Normalize("user-1", RawProfile{
		Name:      "Jordan",
		Gender:    "Male",
		BirthYear: "1996",
		HeightCM:  "180",
		WeightKG:  "81",
	}, SymptomForm{Symptoms: "fever, sore throat", Duration: "3 days"}, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.BMI != 25.0 {
		t.Fatalf("expected BMI 25.0, got %v", in.BMI)
	}
	wantAge := time.Now().Year() - 1996
	if in.Age != wantAge {
		t.Fatalf("expected age %d from birth year, got %d", wantAge, in.Age)
	}
	if in.Report != nil {
		t.Fatalf("expected no report, got %+v", in.Report)
	}
	// Optional text fields stay empty strings so prompts are stable.
	if in.MedicalHistory != "" || in.Allergies != "" {
		t.Fatalf("optional fields should default to empty strings")
	}
}

func TestNormalize_AgeStringFallback(t *testing.T) {
	in, err := Normalize("user-1", RawProfile{Age: " 30 "}, SymptomForm{Symptoms: "fever"}, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.Age != 30 {
		t.Fatalf("expected age 30, got %d", in.Age)
	}
}

func TestNormalize_EmptySymptomsRejected(t *testing.T) {
	_, err := Normalize("user-1", RawProfile{}, SymptomForm{Symptoms: " , "}, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "symptoms" {
		t.Fatalf("expected symptoms field error, got %q", verr.Field)
	}
}

func TestNormalize_ImageReportNeverCarriesText(t *testing.T) {
	in, err := Normalize("user-1", RawProfile{}, SymptomForm{Symptoms: "rash"}, []FileInput{
		{Name: "scan.png", Type: "image/png", URL: "https://files/scan.png", ExtractedText: "should be dropped"},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.Report == nil || in.Report.ImageURL == "" {
		t.Fatalf("expected image report, got %+v", in.Report)
	}
	if in.Report.Text != "" {
		t.Fatalf("image report must not carry extracted text: %+v", in.Report)
	}
}

func TestNormalize_TextReport(t *testing.T) {
	in, err := Normalize("user-1", RawProfile{}, SymptomForm{Symptoms: "fatigue"}, []FileInput{
		{Name: "cbc.pdf", Type: "application/pdf", URL: "https://files/cbc.pdf", ExtractedText: "Hemoglobin 10.1 g/dL"},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.Report == nil || in.Report.Text != "Hemoglobin 10.1 g/dL" {
		t.Fatalf("expected text report, got %+v", in.Report)
	}
	if in.Report.ImageURL != "" {
		t.Fatalf("text report must not carry an image reference: %+v", in.Report)
	}
}

func TestNormalize_BMIOmittedWithoutBothMetrics(t *testing.T) {
	in, err := Normalize("user-1", RawProfile{HeightCM: "180"}, SymptomForm{Symptoms: "fever"}, nil)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.BMI != 0 {
		t.Fatalf("expected BMI omitted, got %v", in.BMI)
	}
}
