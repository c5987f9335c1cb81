package validator

import (
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	AdminPOST(path string, body any) error
	LastStatus() int
	ResponseField(field string) (any, error)
	Save(name, value string)
	Saved(name string) string
	SetBearer(token string)
}

// RegisterSteps registers validator enrollment and consensus steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &validatorSteps{tc: tc}

	ctx.Step(`^I register validator "([^"]*)" and save its secret$`, steps.registerValidator)
	ctx.Step(`^I exchange the secret of "([^"]*)" for a token$`, steps.exchangeSecret)
	ctx.Step(`^I propose verdict (true|false) on issue "([^"]*)" number (\d+)$`, steps.proposeVerdict)
	ctx.Step(`^the tally for issue "([^"]*)" number (\d+) should be "([^"]*)"$`, steps.tallyShouldBe)
}

type validatorSteps struct {
	tc TestContext
}

func (s *validatorSteps) registerValidator(validatorID string) error {
	if err := s.tc.AdminPOST("/v1/admin/validators", map[string]any{
		"validator_id": validatorID,
	}); err != nil {
		return err
	}
	if s.tc.LastStatus() != 201 {
		return fmt.Errorf("expected validator registration to return 201, got %d", s.tc.LastStatus())
	}
	secret, err := s.tc.ResponseField("secret")
	if err != nil {
		return err
	}
	s.tc.Save("secret:"+validatorID, fmt.Sprintf("%v", secret))
	return nil
}

func (s *validatorSteps) exchangeSecret(validatorID string) error {
	if err := s.tc.POST("/v1/validator/token", map[string]any{
		"validator_id": validatorID,
		"secret":       s.tc.Saved("secret:" + validatorID),
	}); err != nil {
		return err
	}
	if s.tc.LastStatus() != 200 {
		return fmt.Errorf("expected token exchange to return 200, got %d", s.tc.LastStatus())
	}
	token, err := s.tc.ResponseField("access_token")
	if err != nil {
		return err
	}
	s.tc.SetBearer(fmt.Sprintf("%v", token))
	return nil
}

func (s *validatorSteps) proposeVerdict(verdict, repo string, number int) error {
	return s.tc.POST("/v1/consensus/proposals", map[string]any{
		"subject_key": fmt.Sprintf("%s#%d", repo, number),
		"kind":        "issue_validity",
		"verdict":     verdict == "true",
		"epoch":       1,
	})
}

func (s *validatorSteps) tallyShouldBe(repo string, number int, expected string) error {
	if err := s.tc.GET(fmt.Sprintf("/v1/consensus/issues/%s/%d", repo, number)); err != nil {
		return err
	}
	verdict, err := s.tc.ResponseField("verdict")
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", verdict) != expected {
		return fmt.Errorf("expected verdict %q, got %v", expected, verdict)
	}
	return nil
}
