package diagnosis

// StageSpec declares one specialist stage: its registry key, the prior stages
// it requires, and the response fields it must produce. The orchestrator
// enforces Requires; processors backfill missing RequiredFields with Defaults
// instead of failing the stage.
type StageSpec struct {
	ID             StageID
	Key            string
	Title          string
	Requires       []StageID
	RequiredFields []string
	Defaults       map[string]any
	Mission        string
}

// Registry is the transition table of the pipeline. Order is the execution
// order; Medical Analyst only runs when a medical report is attached.
var Registry = [StageCount]StageSpec{
	{
		ID:    StageMedicalAnalyst,
		Key:   "medical_analyst",
		Title: "Medical Analyst",
		RequiredFields: []string{
			"summary", "key_findings", "abnormal_values", "disclaimer",
		},
		Defaults: map[string]any{
			"key_findings":    []any{},
			"abnormal_values": []any{},
		},
		Mission: "Extract and summarize the clinically relevant information from the patient's medical report, flagging any values outside normal ranges.",
	},
	{
		ID:    StageGeneralPhysician,
		Key:   "general_physician",
		Title: "General Physician",
		RequiredFields: []string{
			"assessment", "possible_conditions", "recommended_specialist", "urgency_level", "disclaimer",
		},
		Defaults: map[string]any{
			"possible_conditions":    []any{},
			"recommended_specialist": "General Practitioner",
			"urgency_level":          "unknown",
		},
		Mission: "Perform the initial clinical assessment from symptoms and history, list likely conditions and name the specialist best suited to continue.",
	},
	{
		ID:       StageSpecialistDoctor,
		Key:      "specialist_doctor",
		Title:    "Specialist Doctor",
		Requires: []StageID{StageGeneralPhysician},
		RequiredFields: []string{
			"detailed_analysis", "probable_diagnoses", "recommended_tests", "treatment_approach", "disclaimer",
		},
		Defaults: map[string]any{
			"probable_diagnoses": []any{},
			"recommended_tests":  []any{},
		},
		Mission: "Act as the specialist recommended by the general physician. Deepen the analysis, rank probable diagnoses and propose confirmatory tests.",
	},
	{
		ID:       StagePathologist,
		Key:      "pathologist",
		Title:    "Pathologist",
		Requires: []StageID{StageSpecialistDoctor},
		RequiredFields: []string{
			"test_interpretations", "recommended_lab_tests", "interpretation", "disclaimer",
		},
		Defaults: map[string]any{
			"test_interpretations":  []any{},
			"recommended_lab_tests": []any{},
		},
		Mission: "Interpret any available lab values and report findings, and recommend the laboratory workup that would confirm or rule out the probable diagnoses.",
	},
	{
		ID:       StageNutritionist,
		Key:      "nutritionist",
		Title:    "Nutritionist",
		Requires: []StageID{StageSpecialistDoctor, StagePathologist},
		RequiredFields: []string{
			"dietary_assessment", "foods_to_eat", "foods_to_avoid", "meal_plan", "hydration", "disclaimer",
		},
		Defaults: map[string]any{
			"foods_to_eat":   []any{},
			"foods_to_avoid": []any{},
		},
		Mission: "Design dietary guidance supporting recovery, respecting the patient's dietary preference, allergies and the condition under investigation.",
	},
	{
		ID:       StagePharmacist,
		Key:      "pharmacist",
		Title:    "Pharmacist",
		Requires: []StageID{StageSpecialistDoctor, StagePathologist, StageNutritionist},
		RequiredFields: []string{
			"otc_medications", "usage_instructions", "interactions_warnings", "precautions", "disclaimer",
		},
		Defaults: map[string]any{
			"otc_medications": []any{},
		},
		Mission: "Suggest over-the-counter symptomatic relief only, with dosing guidance, and warn about interactions with the patient's current medications and allergies.",
	},
	{
		ID:       StageFollowUpSpecialist,
		Key:      "follow_up_specialist",
		Title:    "Follow-up Specialist",
		Requires: []StageID{StageSpecialistDoctor, StagePathologist, StageNutritionist, StagePharmacist},
		RequiredFields: []string{
			"follow_up_plan", "warning_signs", "next_appointment", "monitoring", "disclaimer",
		},
		Defaults: map[string]any{
			"warning_signs": []any{},
		},
		Mission: "Plan the follow-up: what to monitor, when to re-consult, and which warning signs require immediate medical attention.",
	},
	{
		ID:       StageSummarizer,
		Key:      "summarizer",
		Title:    "Summarizer",
		Requires: []StageID{StageSpecialistDoctor, StagePathologist, StageNutritionist, StagePharmacist, StageFollowUpSpecialist},
		RequiredFields: []string{
			"summary", "key_points", "action_items", "final_recommendation", "disclaimer",
		},
		Defaults: map[string]any{
			"key_points":   []any{},
			"action_items": []any{},
		},
		Mission: "Condense the entire consultation into a clear patient-facing summary with concrete action items.",
	},
}

// System returns the stage's full system prompt.
func (s StageSpec) System() string {
	return systemPrompt(s.Title, s.Mission, s.RequiredFields)
}
