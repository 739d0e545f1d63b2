package activity

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

var eligibilityTemplates = map[entity.EligibilityStatus]*template.Template{
	entity.EligibilityEligible: template.Must(template.New("eligible").Parse(
		"Your household is eligible for a bonus of {{.Amount}} EUR, of which {{.TaxBenefit}} EUR as tax benefit. " +
			"Request the activation before {{.ValidBefore}}.")),
	entity.EligibilityIneligible: template.Must(template.New("ineligible").Parse(
		"Your household ISEE is not below the {{.Threshold}} EUR threshold, so the bonus cannot be requested.")),
	entity.EligibilityConflict: template.Must(template.New("conflict").Parse(
		"A member of your household has already requested the bonus.")),
	entity.EligibilityFailure: template.Must(template.New("failure").Parse(
		"We could not verify your eligibility ({{.Error}}). Please try again later.")),
}

type eligibilityView struct {
	Amount      int
	TaxBenefit  int
	ValidBefore string
	Threshold   string
	Error       string
}

// EligibilityMessage renders the notification sent once a check is stored
func EligibilityMessage(check *entity.EligibilityCheck) (string, error) {
	tmpl, ok := eligibilityTemplates[check.Status]
	if !ok {
		return "", fmt.Errorf("no message template for status %q", check.Status)
	}

	view := eligibilityView{
		ValidBefore: check.ValidBefore.Format("02/01/2006 15:04 MST"),
		Threshold:   fmt.Sprintf("%.0f", entity.ISEEThreshold),
		Error:       string(check.Error),
	}
	if check.DSU != nil {
		view.Amount = check.DSU.MaxAmount
		view.TaxBenefit = check.DSU.MaxTaxBenefit
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render %s message: %w", check.Status, err)
	}
	return buf.String(), nil
}
