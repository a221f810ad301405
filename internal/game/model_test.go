package game

import "testing"

func TestValidateTeamName(t *testing.T) {
	valid := []string{"ab", "Team 7", "crumb_cartel", "Flour-Power", "  padded  "}
	for _, name := range valid {
		if err := ValidateTeamName(name); err != nil {
			t.Errorf("ValidateTeamName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"",
		"x",
		"-leading-dash",
		"_leading_underscore",
		"emoji 🎂 team",
		"waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay too long name",
	}
	for _, name := range invalid {
		if err := ValidateTeamName(name); err == nil {
			t.Errorf("ValidateTeamName(%q) = nil, want error", name)
		}
	}
}

func TestValidatePlanLines(t *testing.T) {
	if err := validatePlanLines(nil); err == nil {
		t.Error("empty plan should be rejected")
	}
	if err := validatePlanLines([]PlanLine{{Cake: "Vanilla", Channel: "Retail", Qty: 0}}); err != nil {
		t.Errorf("zero quantity is allowed, got %v", err)
	}
	if err := validatePlanLines([]PlanLine{{Cake: "Vanilla", Channel: "Retail", Qty: -1}}); err == nil {
		t.Error("negative quantity should be rejected")
	}
	if err := validatePlanLines([]PlanLine{{Cake: " ", Channel: "Retail", Qty: 5}}); err == nil {
		t.Error("blank cake should be rejected")
	}
	if err := validatePlanLines([]PlanLine{{Cake: "Vanilla", Channel: "", Qty: 5}}); err == nil {
		t.Error("blank channel should be rejected")
	}
}

func TestValidatePriceLines(t *testing.T) {
	// An empty sheet is fine; the finalizer backfills or sells at market.
	if err := validatePriceLines(nil); err != nil {
		t.Errorf("empty price sheet is allowed, got %v", err)
	}
	if err := validatePriceLines([]PriceLine{{Cake: "Vanilla", Channel: "Retail", PriceUSD: 0}}); err != nil {
		t.Errorf("zero price is allowed, got %v", err)
	}
	if err := validatePriceLines([]PriceLine{{Cake: "Vanilla", Channel: "Retail", PriceUSD: -0.5}}); err == nil {
		t.Error("negative price should be rejected")
	}
	if err := validatePriceLines([]PriceLine{{Cake: "", Channel: "Retail", PriceUSD: 3}}); err == nil {
		t.Error("blank cake should be rejected")
	}
}
