package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClerkUser is the part of a Clerk Backend API user we keep.
type ClerkUser struct {
	ID    string
	Email string
	Name  string
}

type clerkUserResponse struct {
	ID                    string `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Username              string `json:"username"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

// ClerkClient looks users up in the Clerk Backend API.
type ClerkClient struct {
	client *resty.Client
}

func NewClerkClient(baseURL, secretKey string) (*ClerkClient, error) {
	if secretKey == "" {
		return nil, errors.New("clerk: CLERK_SECRET_KEY is not set")
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(secretKey).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)
	return &ClerkClient{client: client}, nil
}

func (c *ClerkClient) GetUser(ctx context.Context, userID string) (ClerkUser, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", userID).
		Get("/v1/users/{id}")
	if err != nil {
		return ClerkUser{}, fmt.Errorf("clerk: get user: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return ClerkUser{}, ErrUserNotFound
	default:
		return ClerkUser{}, fmt.Errorf("clerk: get user: status %d", resp.StatusCode())
	}

	var result clerkUserResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return ClerkUser{}, fmt.Errorf("clerk: failed to parse response: %w", err)
	}

	user := ClerkUser{
		ID:   result.ID,
		Name: strings.TrimSpace(result.FirstName + " " + result.LastName),
	}
	if user.Name == "" {
		user.Name = result.Username
	}
	for _, addr := range result.EmailAddresses {
		if addr.ID == result.PrimaryEmailAddressID || user.Email == "" {
			user.Email = addr.EmailAddress
		}
	}
	return user, nil
}
