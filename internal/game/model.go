package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	StateKeyCurrentRound = "current_round"
	StateKeyLocked       = "locked"

	DefaultStartingMoneyUSD = float64(5_000)
	DefaultStartingStockUSD = float64(2_000)
)

var (
	ErrTeamNotFound       = errors.New("team not found")
	ErrTeamExists         = errors.New("team already exists")
	ErrInvalidCredentials = errors.New("invalid team name or password")
	ErrInvalidSession     = errors.New("invalid session token")
	ErrSubmissionsLocked  = errors.New("submissions are locked for this round")
	ErrInvalidRound       = errors.New("round must be >= 1")
	ErrUnauthorized       = errors.New("unauthorized")
)

var teamNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 _-]{1,47}$`)

func ValidateTeamName(name string) error {
	if !teamNameRE.MatchString(strings.TrimSpace(name)) {
		return fmt.Errorf("team name must be 2-48 letters, digits, spaces, _ or -")
	}
	return nil
}

func validatePlanLines(lines []PlanLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("plan needs at least one line item")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.Cake) == "" || strings.TrimSpace(l.Channel) == "" {
			return fmt.Errorf("plan line %d: cake and channel are required", i+1)
		}
		if l.Qty < 0 {
			return fmt.Errorf("plan line %d: qty must be >= 0", i+1)
		}
	}
	return nil
}

func validatePriceLines(lines []PriceLine) error {
	for i, l := range lines {
		if strings.TrimSpace(l.Cake) == "" || strings.TrimSpace(l.Channel) == "" {
			return fmt.Errorf("price line %d: cake and channel are required", i+1)
		}
		if l.PriceUSD < 0 {
			return fmt.Errorf("price line %d: price must be >= 0", i+1)
		}
	}
	return nil
}
