package domain

import "errors"

var (
	// ErrUserOrganizationRequired means the user belongs to no organization
	// and none was supplied.
	ErrUserOrganizationRequired = errors.New("user_organization_required")

	// ErrInsufficientCredit means the organization balance cannot cover the
	// requested spend.
	ErrInsufficientCredit = errors.New("organization_credit_insufficient")

	// ErrQuotaExceeded means the member's personal quota cannot cover the
	// requested spend.
	ErrQuotaExceeded = errors.New("member_quota_exceeded")

	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidCredits   = errors.New("invalid_credits")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
