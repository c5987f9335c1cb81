package registry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	AdminPOST(path string, body any) error
	AdminDELETE(path string) error
	LastStatus() int
	ResponseField(field string) (any, error)
	ResponseList() ([]map[string]any, error)
	Save(name, value string)
	Saved(name string) string
}

// RegisterSteps registers participant, override, and leaderboard steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrySteps{tc: tc}

	ctx.Step(`^I register participant "([^"]*)" with identity "([^"]*)"$`, steps.registerParticipant)
	ctx.Step(`^I register participant "([^"]*)" with identity "([^"]*)" again$`, steps.registerParticipant)
	ctx.Step(`^I grant participant "([^"]*)" a bonus of ([0-9.]+) for "([^"]*)"$`, steps.grantBonus)
	ctx.Step(`^I save the override id$`, steps.saveOverrideID)
	ctx.Step(`^I revoke the saved override$`, steps.revokeSavedOverride)
	ctx.Step(`^participant "([^"]*)" should appear on the leaderboard with identity "([^"]*)"$`, steps.leaderboardShouldShow)
	ctx.Step(`^participant "([^"]*)" should hold the full weight$`, steps.shouldHoldFullWeight)
}

type registrySteps struct {
	tc TestContext
}

func (s *registrySteps) registerParticipant(key, identity string) error {
	return s.tc.POST("/v1/participants", map[string]any{
		"participant_key":   key,
		"external_identity": identity,
	})
}

func (s *registrySteps) grantBonus(key string, bonus float64, reason string) error {
	return s.tc.AdminPOST("/v1/admin/overrides", map[string]any{
		"participant_key": key,
		"bonus_weight":    bonus,
		"reason":          reason,
	})
}

func (s *registrySteps) saveOverrideID() error {
	id, err := s.tc.ResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("override_id", fmt.Sprintf("%v", id))
	return nil
}

func (s *registrySteps) revokeSavedOverride() error {
	return s.tc.AdminDELETE("/v1/admin/overrides/" + s.tc.Saved("override_id"))
}

func (s *registrySteps) leaderboardShouldShow(key, identity string) error {
	if err := s.tc.GET("/v1/leaderboard"); err != nil {
		return err
	}
	rows, err := s.tc.ResponseList()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row["participant_key"] == key {
			if row["external_identity"] != identity {
				return fmt.Errorf("participant %q bound to %v, expected %q", key, row["external_identity"], identity)
			}
			return nil
		}
	}
	return fmt.Errorf("participant %q not on the leaderboard (%d rows)", key, len(rows))
}

// shouldHoldFullWeight polls because published weights lag behind grants by
// up to one publish interval.
func (s *registrySteps) shouldHoldFullWeight(key string) error {
	deadline := time.Now().Add(45 * time.Second)
	for {
		err := s.checkFullWeight(key)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(2 * time.Second)
	}
}

func (s *registrySteps) checkFullWeight(key string) error {
	if err := s.tc.GET("/v1/weights"); err != nil {
		return err
	}
	rows, err := s.tc.ResponseList()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row["participant_key"] != key {
			continue
		}
		weight, err := strconv.ParseFloat(fmt.Sprintf("%v", row["weight"]), 64)
		if err != nil {
			return err
		}
		if weight < 0.999 || weight > 1.001 {
			return fmt.Errorf("participant %q holds weight %v, expected 1.0", key, weight)
		}
		return nil
	}
	return fmt.Errorf("participant %q holds no weight", key)
}
