package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/airsense-india/airsense/src/core"
)

const (
	maxUserIDLen   = 100
	maxUserNameLen = 100
	maxPlaceLen    = 200
	maxImageURLLen = 500
)

// Submission is a report as received at the boundary.
type Submission struct {
	UserID        string  `json:"-"`
	UserName      string  `json:"user_name"`
	Place         string  `json:"location" binding:"required"`
	Lat           float64 `json:"lat" binding:"gte=-90,lte=90"`
	Lng           float64 `json:"lng" binding:"gte=-180,lte=180"`
	PollutionType string  `json:"pollution_type" binding:"required"`
	Description   string  `json:"description"`
	ImageURL      string  `json:"image_url"`
}

func invalid(field, format string, args ...any) error {
	return &core.ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func checkLength(field, v string, max int) error {
	if n := utf8.RuneCountInString(v); n > max {
		return invalid(field, "%d characters exceeds maximum of %d", n, max)
	}
	return nil
}

// identifier trims a user id taken from the request identity and bounds it
// like the stored user_id columns.
func identifier(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalid(field, "required")
	}
	if err := checkLength(field, v, maxUserIDLen); err != nil {
		return "", err
	}
	return v, nil
}

func checkCoordinate(field string, v, limit float64) error {
	if math.IsNaN(v) || v < -limit || v > limit {
		return invalid(field, "%v outside [-%v, %v]", v, limit, limit)
	}
	return nil
}

func checkImageURL(raw string) error {
	if raw == "" {
		return nil
	}
	if err := checkLength("image_url", raw, maxImageURLLen); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("image_url", "must be an absolute http(s) URL")
	}
	return nil
}

// validate checks s and returns the report it describes. Every failing field
// is reported.
func validate(s Submission, maxDescription int) (core.Report, error) {
	s.UserID = strings.TrimSpace(s.UserID)
	s.UserName = strings.TrimSpace(s.UserName)
	s.Place = strings.TrimSpace(s.Place)
	s.ImageURL = strings.TrimSpace(s.ImageURL)

	var errs []error
	if s.UserID == "" {
		errs = append(errs, invalid("user_id", "required"))
	} else if err := checkLength("user_id", s.UserID, maxUserIDLen); err != nil {
		errs = append(errs, err)
	}
	if s.Place == "" {
		errs = append(errs, invalid("location", "required"))
	}
	pt, ptErr := core.ParsePollutionType(s.PollutionType)
	errs = append(errs,
		checkLength("user_name", s.UserName, maxUserNameLen),
		checkLength("location", s.Place, maxPlaceLen),
		checkCoordinate("lat", s.Lat, 90),
		checkCoordinate("lng", s.Lng, 180),
		ptErr,
		checkLength("description", s.Description, maxDescription),
		checkImageURL(s.ImageURL),
	)
	if err := errors.Join(errs...); err != nil {
		return core.Report{}, err
	}
	return core.Report{
		UserID:        s.UserID,
		UserName:      s.UserName,
		Location:      core.Location{Lat: s.Lat, Lng: s.Lng, Place: s.Place},
		PollutionType: pt,
		Description:   s.Description,
		ImageURL:      s.ImageURL,
		Status:        core.StatusPending,
	}, nil
}
