package common

import (
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	LastStatus() int
	ResponseField(field string) (any, error)
}

// RegisterSteps registers generic request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the service is healthy$`, steps.serviceIsHealthy)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.responseFieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be present$`, steps.responseFieldShouldBePresent)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) serviceIsHealthy() error {
	if err := s.tc.GET("/healthz"); err != nil {
		return err
	}
	if s.tc.LastStatus() != 200 {
		return fmt.Errorf("expected healthy service, got status %d", s.tc.LastStatus())
	}
	return nil
}

func (s *commonSteps) get(path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) responseStatusShouldBe(expected int) error {
	if s.tc.LastStatus() != expected {
		return fmt.Errorf("expected status %d, got %d", expected, s.tc.LastStatus())
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBe(field, expected string) error {
	value, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", value) != expected {
		return fmt.Errorf("expected field %q to be %q, got %v", field, expected, value)
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBePresent(field string) error {
	_, err := s.tc.ResponseField(field)
	return err
}
