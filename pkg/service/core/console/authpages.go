package console

import (
	"net/http"
	"strings"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

type loginPage struct {
	From  string
	Email string
}

func (c *Console) Login(w http.ResponseWriter, r *http.Request) {
	const title = "Login"

	if r.Method == http.MethodGet {
		c.render(w, r, http.StatusOK, "login", title, &loginPage{From: r.URL.Query().Get("from")}, nil)
		return
	}

	_ = r.ParseForm()

	data := &loginPage{
		From:  r.PostForm.Get("from"),
		Email: strings.TrimSpace(r.PostForm.Get("email")),
	}

	session, err := c.auth.Login(r.Context(), service.LoginDto{
		Email:    data.Email,
		Password: r.PostForm.Get("password"),
	})
	if err != nil {
		c.render(w, r, errs.StatusCode(err), "login", title, data, err)
		return
	}

	c.cookies.SetSession(w, session)
	http.Redirect(w, r, auth.SafeRedirect(data.From), http.StatusSeeOther)
}

type registerPage struct {
	Name  string
	Email string
}

func (c *Console) Register(w http.ResponseWriter, r *http.Request) {
	const title = "Register"

	if r.Method == http.MethodGet {
		c.render(w, r, http.StatusOK, "register", title, &registerPage{}, nil)
		return
	}

	_ = r.ParseForm()

	data := &registerPage{
		Name:  strings.TrimSpace(r.PostForm.Get("name")),
		Email: strings.TrimSpace(r.PostForm.Get("email")),
	}

	in := service.RegisterDto{
		Email:    data.Email,
		Password: r.PostForm.Get("password"),
	}
	if data.Name != "" {
		in.Profile = map[string]any{"name": data.Name}
	}

	if _, err := c.auth.Register(r.Context(), in); err != nil {
		c.render(w, r, errs.StatusCode(err), "register", title, data, err)
		return
	}

	c.redirectWithFlash(w, r, auth.LoginPath, auth.FlashSuccess, "Registration successful. Please check your email to confirm your account.")
}

type forgotPasswordPage struct {
	Email string
}

func (c *Console) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	const title = "Forgot Password"

	if r.Method == http.MethodGet {
		c.render(w, r, http.StatusOK, "forgot-password", title, &forgotPasswordPage{}, nil)
		return
	}

	_ = r.ParseForm()

	data := &forgotPasswordPage{Email: strings.TrimSpace(r.PostForm.Get("email"))}

	if err := c.auth.ForgotPassword(r.Context(), service.ForgotPasswordDto{Email: data.Email}); err != nil {
		c.render(w, r, errs.StatusCode(err), "forgot-password", title, data, err)
		return
	}

	c.redirectWithFlash(w, r, auth.LoginPath, auth.FlashInfo, "If the address is registered, a password reset link is on its way.")
}

// ResetPassword sets a new password for the signed in user. The reset link
// from the identity provider signs the user in before landing here.
func (c *Console) ResetPassword(w http.ResponseWriter, r *http.Request) {
	const title = "Reset Password"

	if r.Method == http.MethodGet {
		c.render(w, r, http.StatusOK, "reset-password", title, nil, nil)
		return
	}

	_ = r.ParseForm()

	err := c.auth.UpdatePassword(r.Context(), c.cookies.SessionToken(r), service.UpdatePasswordDto{
		Password: r.PostForm.Get("password"),
	})
	if err != nil {
		c.fail(w, r, "reset-password", title, nil, err)
		return
	}

	c.redirectWithFlash(w, r, "/", auth.FlashSuccess, "Password updated successfully.")
}

func (c *Console) Logout(w http.ResponseWriter, r *http.Request) {
	if err := c.auth.Logout(r.Context(), c.cookies.SessionToken(r)); err != nil {
		c.log.Error().Err(err).Msg("logging out")
	}

	c.cookies.ClearSession(w)
	c.redirectWithFlash(w, r, auth.LoginPath, auth.FlashInfo, "You have been logged out.")
}
