package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/clc2salesforce/AbsorbSync/pkg/record"
)

// FetchOptions controls the paginated user listing
type FetchOptions struct {
	PageSize     int    // Users per page
	BlankField   string // Dotted path; when set, only users where this field is null
	DepartmentID string // When set, only users in this department
}

// PageHandler receives one page of users at a time during a fetch.
// Returning an error aborts the fetch.
type PageHandler func(users []record.Record, page, totalPages int) error

// usersResponse is the shape of the paginated /users listing response
type usersResponse struct {
	TotalItems int             `json:"totalItems"`
	Users      []record.Record `json:"users"`
}

// FetchUsers retrieves all users matching the options, page by page,
// invoking the handler for each page so the full result set is never
// held in memory. Pagination is page-number based: _offset carries the
// page number, not a byte or row offset.
func (c *Client) FetchUsers(ctx context.Context, opts FetchOptions, handler PageHandler) error {
	page := 0
	totalItems := -1
	totalPages := 0

	filter := buildFilter(opts)
	if filter != "" {
		c.log.Infof("Using server-side filter: %s", filter)
	}

	for {
		params := url.Values{}
		params.Set("_limit", strconv.Itoa(opts.PageSize))
		params.Set("_offset", strconv.Itoa(page))
		if filter != "" {
			params.Set("_filter", filter)
		}

		resp, err := c.Do(ctx, http.MethodGet, c.apiURL+"/users?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("error retrieving users: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to retrieve users: %d - %s", resp.StatusCode, truncateBody(resp.Body))
		}

		var payload usersResponse
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return fmt.Errorf("failed to decode users response: %w", err)
		}

		// The total count comes from the first page
		if totalItems < 0 {
			totalItems = payload.TotalItems
			totalPages = (totalItems + opts.PageSize - 1) / opts.PageSize
			c.log.Infof("Total users to retrieve: %d", totalItems)
			c.log.Infof("Will download in %d batches of %d", totalPages, opts.PageSize)
		}

		if len(payload.Users) == 0 {
			break
		}

		if err := handler(payload.Users, page+1, totalPages); err != nil {
			return err
		}

		page++

		if len(payload.Users) < opts.PageSize {
			break
		}
	}

	return nil
}

// buildFilter combines the optional server-side filters with logical AND
func buildFilter(opts FetchOptions) string {
	var parts []string

	if opts.BlankField != "" {
		parts = append(parts, fmt.Sprintf("%s eq null", strings.ReplaceAll(opts.BlankField, ".", "/")))
	}

	if opts.DepartmentID != "" {
		parts = append(parts, fmt.Sprintf("departmentId eq guid'%s'", opts.DepartmentID))
	}

	return strings.Join(parts, " and ")
}

// UpdateUser sets the destination field on the user to the given value and
// PUTs the entire user profile back. The API has no partial-update
// semantics, so the full stored snapshot is written; concurrent remote
// edits between fetch and update can be clobbered.
func (c *Client) UpdateUser(ctx context.Context, user record.Record, destPath, value string) error {
	userID := user.ID()
	if userID == "" {
		return fmt.Errorf("user record has no id")
	}

	// Numeric custom fields take a decimal value, everything else a string
	if impliesNumericField(leafName(destPath)) {
		decimal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("cannot convert %q to decimal for user %s", value, userID)
		}
		record.Set(user, destPath, decimal)
	} else {
		record.Set(user, destPath, value)
	}

	body, err := user.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode user %s: %w", userID, err)
	}

	resp, err := c.Do(ctx, http.MethodPut, c.apiURL+"/users/"+userID, body)
	if err != nil {
		return fmt.Errorf("error updating user %s: %w", userID, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("failed to update user %s: %d - %s", userID, resp.StatusCode, truncateBody(resp.Body))
	}
}

// leafName returns the final segment of a dotted path
func leafName(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// impliesNumericField reports whether a field name denotes one of the
// numeric custom field slots (decimal1, decimal2, number3, ...)
func impliesNumericField(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "decimal") ||
		strings.HasPrefix(lower, "number") ||
		strings.HasPrefix(lower, "int")
}
