package auth

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/config"
	"github.com/alris/cms-backend/pkg/service"
)

type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
	FlashInfo    FlashKind = "info"
)

// Flash is a one-shot notice shown on the next rendered page.
type Flash struct {
	Kind    FlashKind `json:"kind"`
	Message string    `json:"message"`
}

// Cookies reads and writes the session and flash cookies.
type Cookies struct {
	session config.CookieSettings
	flash   config.CookieSettings
}

func NewCookies(cfg config.Cookies) *Cookies {
	return &Cookies{
		session: cfg.Session,
		flash:   cfg.Flash,
	}
}

func (c *Cookies) SessionName() string {
	return c.session.Name
}

func (c *Cookies) SetSession(w http.ResponseWriter, s *service.Session) {
	http.SetCookie(w, cookie(c.session, s.Token, s.Expires))
}

func (c *Cookies) ClearSession(w http.ResponseWriter) {
	deleteCookie(w, c.session)
}

func (c *Cookies) SessionToken(r *http.Request) string {
	ck, err := r.Cookie(c.session.Name)
	if err != nil {
		return ""
	}

	return ck.Value
}

func (c *Cookies) SetFlash(w http.ResponseWriter, kind FlashKind, message string) {
	data, err := json.Marshal(Flash{Kind: kind, Message: message})
	if err != nil {
		return
	}

	var expires time.Time
	if c.flash.MaxAge > 0 {
		expires = time.Now().Add(time.Duration(c.flash.MaxAge) * time.Second)
	}

	http.SetCookie(w, cookie(c.flash, base64.RawURLEncoding.EncodeToString(data), expires))
}

// TakeFlash returns the pending notice, if any, and clears it.
func (c *Cookies) TakeFlash(w http.ResponseWriter, r *http.Request) *Flash {
	ck, err := r.Cookie(c.flash.Name)
	if err != nil || ck.Value == "" {
		return nil
	}

	deleteCookie(w, c.flash)

	data, err := base64.RawURLEncoding.DecodeString(ck.Value)
	if err != nil {
		return nil
	}

	f := &Flash{}
	if err := json.Unmarshal(data, f); err != nil || f.Message == "" {
		return nil
	}

	return f
}

func cookie(s config.CookieSettings, value string, expires time.Time) *http.Cookie {
	path := s.Path
	if path == "" {
		path = "/"
	}

	return &http.Cookie{
		Name:     s.Name,
		Value:    value,
		Path:     path,
		Domain:   s.Domain,
		Expires:  expires,
		Secure:   s.Secure,
		HttpOnly: s.HttpOnly,
		SameSite: s.GetSameSite(),
	}
}

func deleteCookie(w http.ResponseWriter, s config.CookieSettings) {
	ck := cookie(s, "", time.Unix(0, 0))
	ck.MaxAge = -1

	http.SetCookie(w, ck)
}
