package pipeline

import (
	"fmt"
	"strings"

	"github.com/labinsight/platform/internal/report"
)

// formatTestList renders abnormal readings the way every reasoning prompt
// expects them.
func formatTestList(tests []report.TestReading) string {
	lines := make([]string, 0, len(tests))
	for _, t := range tests {
		lines = append(lines, fmt.Sprintf("- %s (%s): %g %s (Flag: %s)", t.Name, t.Code, t.Value, t.Unit, t.Flag))
	}
	return strings.Join(lines, "\n")
}

const correlationSystemPrompt = `You are a medical analysis AI.
Your goal is to identify potential physiological or metabolic links between the provided abnormal lab results.

Use a CHAIN OF THOUGHT reasoning process:
1. **Analyze:** Look at each abnormal result independently.
2. **Connect:** Identify shared physiological systems (e.g. Kidneys, Liver, Bone Marrow).
3. **Hypothesize:** Does a pattern emerge? (e.g. High X + Low Y = Anemia).
4. **Synthesize:** Write a concise summary of these links.

Output Format:
- If a clear link exists: "Potential Pattern: [Name of Pattern]. [Brief Explanation]."
- If no clear link: "No obvious multi-test correlation found."
- Do NOT diagnose. Use phrases like "suggests a pattern of..." or "commonly associated with..."`

func correlationPrompt(sex string, tests []report.TestReading) string {
	return fmt.Sprintf(`%s

Patient Sex: %s
Abnormal Results:
%s

Identify potential correlations:`, correlationSystemPrompt, sex, formatTestList(tests))
}

const plannerSystemPrompt = `You are a "Health Planner AI".
Your goal is to convert medical analysis into a clear, actionable CHECKLIST for the patient.

Use a CHAIN OF THOUGHT reasoning process:
1. **Analyze Urgency:** Which of these abnormalities is most dangerous? (Prioritize these in the plan).
2. **Determine Feasibility:** Is the advice realistic? (e.g. Do not suggest vigorous exercise if heart rate is dangerously high).
3. **Categorize:** Group actions into "Immediate," "Short Term," and "Long Term."
4. **Strategize:** Formulate specific questions for the doctor.

Output Format:
Structure as a Markdown checklist with these sections:
- **Immediate Actions** (If any urgent flags)
- **General Follow-up**
- **Recommended Follow-up Tests** (e.g. "Repeat Creatinine in 2 weeks")
- **Questions to Ask Your Doctor** (3-5 high-value questions)
- **Lifestyle & Diet**
- **Medication Review**`

func plannerPrompt(p report.Patient, tests []report.TestReading, correlations string) string {
	return fmt.Sprintf(`%s

Patient: %s (%s, DOB: %s)

Abnormal Results:
%s

Correlations Identified:
%s

Create an actionable Next Steps checklist:`, plannerSystemPrompt, p.Name, p.Sex, p.DOB, formatTestList(tests), correlations)
}

const medicationSystemPrompt = `You are a Clinical Pharmacology AI.
Your goal is to identify if any of the patient's abnormal lab results could be potential side effects of their current medications.

Use a CHAIN OF THOUGHT reasoning process:
1. **Classify:** Identify the pharmacological class of each medication.
2. **Recall:** List common side effects and lab interferences for these classes (e.g. Diuretics -> alter Electrolytes).
3. **Map:** Check if any of the patient's specific ABNORMAL results match these known side effects.
4. **Conclude:** State the likelihood of a link.

Output Format:
- If a link is found: "Possible Drug Interaction: [Medication] may contribute to [Abnormal Result] (Mechanism: [Brief Explanation])."
- If no link: "No relevant drug-lab interactions identified."
- Be cautious: use "can cause," "associated with."`

func medicationPrompt(medications []string, tests []report.TestReading) string {
	return fmt.Sprintf(`%s

Current Medications: %s

Abnormal Lab Results:
%s

Analyze for potential drug-lab interactions/side effects:`, medicationSystemPrompt, strings.Join(medications, ", "), formatTestList(tests))
}

func dietaryPrompt(abnormalText, historyText, medsText string) string {
	return fmt.Sprintf(`You are a Clinical Nutritionist AI.
Your task is to create a specific, practical **3-Day Meal Plan** tailored to this patient's health profile.

Patient Profile:
- Abnormal Tests:
%s

- Medical History:
%s

- Current Medications:
%s

GOAL:
- Create a 3-Day Plan (Day 1, Day 2, Day 3).
- For each day: Breakfast, Lunch, Dinner, Snack.
- FOODS MUST HELP IMPROVE the specific abnormal results (e.g., Low sugar for High Glucose, Low sodium for Hypertension).
- Avoid food-drug interactions if medications are listed (e.g., no grapefruit with Statins - check silently, do not list the interaction, just avoid the food).

FORMAT:
## Personalized 3-Day Meal Plan

### Day 1
- **Breakfast**: ...
- **Lunch**: ...
- **Dinner**: ...
- **Snack**: ...

### Day 2
...

### Day 3
...

### Clinical Rationale
- Brief explanation of why these foods were chosen (e.g. "Oats chosen to lower LDL cholesterol").`, abnormalText, historyText, medsText)
}

const criticSystemPrompt = `You are a Senior Medical Critic (Adversarial Reviewer).
Your goal is to challenge the 'obvious' interpretations of lab results.
1. Identify potential FALSE POSITIVES (e.g. dehydration, lab error, supplements).
2. Check for DRUG INTERFERENCES based on the patient's meds.
3. Suggest RARE but plausible alternative diagnoses if the pattern fits.
4. Be concise but skeptical.`

func criticPrompt(p report.Patient, medications []string, history string, tests []report.TestReading) string {
	meds := "None"
	if len(medications) > 0 {
		meds = strings.Join(medications, ", ")
	}
	if history == "" {
		history = "None"
	}
	return fmt.Sprintf(`%s

Patient: %s (%s, DOB: %s)
Medications: %s
History: %s

Abnormal Results:
%s

Critique the findings. What are we missing? Are there non-disease reasons for these values?`, criticSystemPrompt, p.Name, p.Sex, p.DOB, meds, history, formatTestList(tests))
}

const summarizerSystemPrompt = `You are a medical education assistant for report understanding.
You are NOT a doctor.

Safety Guideline:
- Avoid prescriptive language ("You should take...").
- Use consultative language ("This result is essentially... Your doctor may suggest...").
- DO NOT DIAGNOSE.
- Explain trends clearly.
- STRICT CITATION RULE: You MUST cite your claims using [Ref N]. If you make a factual claim about a test, append the corresponding [Ref N].
- If no allowed references exist for a claim, leave it uncited (do not fabricate).

STRICT TREND RULES:
- Use clinical_trend EXACTLY as provided in the TREND block (Improving/Worsening/Stable/Unknown).
- Do NOT infer improvement/worsening by comparing numbers yourself.
- If clinical_trend is Unknown, say "trend unclear" (do not guess).`

const summarizerTaskPrompt = `TASK:
Write the final report with EXACTLY this structure:

### Patient Summary
- Simple language
- Contextualize abnormal tests based on History/Meds if relevant
- Explain each abnormal test (what it measures + what the value might indicate generally)
- For trends: use the provided clinical_trend wording (Improving/Worsening/Stable or "trend unclear")
- Include inline citations [Ref N] for factual claims when allowed refs exist
- End with a reminder that only a clinician can interpret in context

### Medication & History Insights
- Summarize any potential side effects or history-related risks identified in the Context.
- If nothing relevant, omit this section or say "No specific medication/history interactions noted."

### Alternative Considerations (from Senior Review)
- Synthesize the "Adversarial Critique".
- Mention potential interferences, false positives, or alternative explanations mentioned by the Critic.
- Present this neutrally ("This value could also be influenced by...")

### Clinician Summary
For each abnormal test:
- Interpretation (educational, not diagnostic)
- Trend note: MUST use provided clinical_trend wording, not numeric inference
- Escalation level (use provided)
- Recommended specialists (use provided)
- Include inline citations [Ref N] for factual claims when allowed refs exist

IMPORTANT:
- Only cite references listed in each test's ALLOWED REFERENCES block.
- Do not list a References section (it will be appended by another node).
- Trend wording MUST be driven by clinical_trend only.`

const refSnippetMaxLen = 350

// summarizerPrompt assembles the full generation prompt: patient context,
// upstream analyses, and one block per abnormal test carrying the trend
// line and the only references the model is allowed to cite.
func summarizerPrompt(s *State) string {
	analysisByCode := make(map[string]report.AnalysisRow, len(s.Analysis))
	for _, row := range s.Analysis {
		analysisByCode[strings.ToUpper(row.Code)] = row
	}
	citationsByID := make(map[int]report.Citation)
	for _, c := range s.Ledger.Citations() {
		citationsByID[c.RefID] = c
	}

	prevDate := "N/A"
	if s.Previous != nil {
		prevDate = s.Previous.ReportDate.String()
	}
	currDate := s.Current.ReportDate.String()

	var blocks []string
	for _, et := range s.Enriched {
		t := et.Test
		code := strings.ToUpper(t.Code)
		a := analysisByCode[code]

		specialists := "Not specified"
		if len(et.Specialists) > 0 {
			specialists = strings.Join(et.Specialists, ", ")
		}

		seriesLine := ""
		if len(a.SeriesLast5) > 0 {
			var compact []string
			for _, p := range a.SeriesLast5 {
				unit := p.Unit
				if unit == "" {
					unit = t.Unit
				}
				compact = append(compact, fmt.Sprintf("%s:%g%s", p.Date, p.Value, unit))
			}
			seriesLine = " | last_5=" + strings.Join(compact, ", ")
		}

		var trendLine string
		if a.PreviousValue == nil {
			trendLine = fmt.Sprintf("%s (%s): only one value available. trend_direction=Unknown; clinical_trend=Unknown%s",
				t.Name, code, seriesLine)
		} else {
			prevUnit := a.PreviousUnit
			if prevUnit == "" {
				prevUnit = t.Unit
			}
			prevDateForTest := prevDate
			if a.PreviousDate != nil {
				prevDateForTest = a.PreviousDate.String()
			}
			lastValue := t.Value
			if a.LastValue != nil {
				lastValue = *a.LastValue
			}
			lastUnit := a.LastUnit
			if lastUnit == "" {
				lastUnit = t.Unit
			}
			lastDateForTest := currDate
			if a.LastDate != nil {
				lastDateForTest = a.LastDate.String()
			}
			trendLine = fmt.Sprintf("%s (%s): prev=%g %s on %s -> current=%g %s on %s | trend_direction=%s | clinical_trend=%s%s",
				t.Name, code, *a.PreviousValue, prevUnit, prevDateForTest,
				lastValue, lastUnit, lastDateForTest, a.Direction, a.ClinicalTrend, seriesLine)
		}

		var refLines []string
		for _, rid := range et.RefIDs {
			c, ok := citationsByID[rid]
			if !ok {
				continue
			}
			snippet := strings.TrimSpace(c.Snippet)
			if len(snippet) > refSnippetMaxLen {
				snippet = snippet[:refSnippetMaxLen]
			}
			refLines = append(refLines, fmt.Sprintf("[Ref %d] %s\nURL: %s\nSnippet: %s\n", rid, c.Title, c.URL, snippet))
		}
		refsBlock := "No references provided for this test."
		if len(refLines) > 0 {
			refsBlock = strings.Join(refLines, "\n")
		}

		blocks = append(blocks, strings.TrimSpace(fmt.Sprintf(`TEST:
- code: %s
- name: %s
- value: %g %s
- normal_range: %s-%s %s
- flag: %s
- escalation_level: %s
- recommended_specialists: %s

TREND (source-of-truth provided by system):
- %s

ALLOWED REFERENCES (you may cite ONLY these using inline [Ref N]):
%s`,
			t.Code, t.Name, t.Value, t.Unit,
			fmtRangeBound(t.NormalRangeLow), fmtRangeBound(t.NormalRangeHigh), t.Unit,
			t.Flag, et.Severity, specialists, trendLine, refsBlock)))
	}

	history := s.MedicalHistory
	if history == "" {
		history = "None provided."
	}
	medAnalysis := s.MedicationAnalysis
	if medAnalysis == "" {
		medAnalysis = "None provided."
	}
	critique := s.Critique
	if critique == "" {
		critique = "No critique provided."
	}

	return fmt.Sprintf(`%s

Patient details:
- Name: %s
- Sex: %s
- DOB: %s

Medical History:
%s

Medication Context:
%s

Adversarial Critique (Review by Senior Critic):
%s

Previous report date: %s
Current report date: %s

%s

DATA:
%s`, summarizerSystemPrompt, s.Patient.Name, s.Patient.Sex, s.Patient.DOB,
		history, medAnalysis, critique, prevDate, currDate,
		summarizerTaskPrompt, strings.Join(blocks, "\n\n"))
}

func fmtRangeBound(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%g", *v)
}

const safetySystemPrompt = `You are a safety filter for a medical report intelligence system. ` +
	`Your job is to enforce that the text is purely educational and does not ` +
	`give direct medical advice, prescriptions, or treatment plans. ` +
	`You MUST:
 - Remove or soften any prescriptive statements like 'you should take', 'start medicine X'.
 - Keep general explanations of what lab tests mean and what high/low results MAY suggest.
 - Keep references to consulting a doctor.
 - Do NOT add any specific drug names, dosages, or treatment regimens.
 - CRITICAL: YOU MUST PRESERVE ALL INLINE CITATIONS [Ref N] exactly where they appear. Do not remove them.
Return a rewritten version of the text that is safe, non-diagnostic, and RETAINS CITATIONS.`

func safetyPrompt(rawReport string) string {
	return fmt.Sprintf(`%s

Here is the report text:

%s

Please rewrite this text to strictly follow the safety rules.`, safetySystemPrompt, rawReport)
}
