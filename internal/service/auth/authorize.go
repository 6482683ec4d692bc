package auth

import (
	"fmt"
	"strings"

	"github.com/jwalitptl/medilink-api/internal/model"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/validator"
)

// Authorize fails with Forbidden unless user holds one of roles.
func Authorize(user model.AuthenticatedUser, roles ...model.Role) error {
	if user.HasRole(roles...) {
		return nil
	}

	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return apperrors.Forbidden(fmt.Sprintf("Access denied: requires role %s", strings.Join(names, " or ")))
}

// validateProfile applies field rules plus the doctor specialization rule.
func validateProfile(v validator.Validator, role model.Role, profile model.Profile) error {
	if err := v.Validate(&profile); err != nil {
		return apperrors.Validation("profile: "+err.Error(), err)
	}
	if role == model.RoleDoctor && strings.TrimSpace(profile.Specialization) == "" {
		return apperrors.Validation("profile.specialization is required for doctors", nil)
	}
	return nil
}

// ValidateProfile is exported for the profile update path.
func ValidateProfile(role model.Role, profile model.Profile) error {
	return validateProfile(validator.New(), role, profile)
}
