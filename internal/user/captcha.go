package user

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CaptchaVerifier checks a client-supplied CAPTCHA token during signup.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

const recaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// RecaptchaVerifier validates tokens against Google's siteverify endpoint.
// With no secret configured it allows everything, so local setups work
// without a reCAPTCHA account.
type RecaptchaVerifier struct {
	Secret   string
	Endpoint string
	Client   *http.Client
}

func NewRecaptchaVerifier(secret string) *RecaptchaVerifier {
	return &RecaptchaVerifier{
		Secret:   secret,
		Endpoint: recaptchaVerifyURL,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *RecaptchaVerifier) Verify(ctx context.Context, token string) (bool, error) {
	if v.Secret == "" {
		return true, nil
	}

	form := url.Values{}
	form.Set("secret", v.Secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha verify: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("captcha verify: decode: %w", err)
	}
	return result.Success, nil
}
