package e2e

import (
	"github.com/cucumber/godog"

	"merit/e2e/steps/common"
	"merit/e2e/steps/registry"
	"merit/e2e/steps/validator"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (health, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register participant and reward steps
	registry.RegisterSteps(ctx, tc)

	// Register validator and consensus steps
	validator.RegisterSteps(ctx, tc)
}
