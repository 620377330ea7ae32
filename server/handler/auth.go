package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"nearchat/server/auth"
	"nearchat/server/store"
)

type credentials struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := a.store.UserByEmail(in.Email)
	if err != nil || !auth.CheckPassword(u.PasswordHash, in.Password) {
		writeError(w, http.StatusBadRequest, "invalid email or password")
		return
	}
	now := a.now()
	if u.IsBlocked(now) {
		writeBlocked(w, u, now)
		return
	}
	if !u.Verified {
		if err := a.issueCode(u.Email); err != nil {
			a.log.WithError(err).Error("failed to issue verification code")
		}
		writeError(w, http.StatusUnauthorized, "please verify your email address; a new code has been sent")
		return
	}
	a.signedIn(w, u, "")
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.FullName = strings.TrimSpace(in.FullName)
	switch {
	case in.FullName == "":
		writeError(w, http.StatusBadRequest, "full name is required")
		return
	case !validEmail(in.Email):
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	case len(in.Password) < auth.MinPasswordLength:
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}
	u := &store.User{FullName: in.FullName, Email: in.Email, PasswordHash: hash}
	if err := a.store.CreateUser(u); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.log.WithError(err).Error("failed to create user")
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}
	if err := a.issueCode(u.Email); err != nil {
		a.log.WithError(err).Error("failed to issue verification code")
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful. Check your email for the verification code.",
	})
}

func (a *API) sendVerificationCode(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.store.UserByEmail(in.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, "no account with this email")
		return
	}
	if u.Verified {
		writeError(w, http.StatusBadRequest, "email is already verified")
		return
	}
	if err := a.issueCode(u.Email); err != nil {
		writeError(w, http.StatusInternalServerError, "could not send code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Verification code sent"})
}

func (a *API) verify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.store.UserByEmail(in.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, store.ErrInvalidCode.Error())
		return
	}
	if err := a.store.ConsumeCode(u.Email, strings.TrimSpace(in.Code), a.now()); err != nil {
		writeError(w, http.StatusBadRequest, store.ErrInvalidCode.Error())
		return
	}
	u.Verified = true
	if err := a.store.SaveUser(u); err != nil {
		writeError(w, http.StatusInternalServerError, "could not verify account")
		return
	}
	a.signedIn(w, u, "Email verified")
}

// requestPasswordReset answers the same way whether or not the email exists.
func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u, err := a.store.UserByEmail(in.Email); err == nil {
		token, err := auth.NewResetToken()
		if err == nil {
			err = a.store.SaveResetToken(token, u.ID, a.now().Add(resetTokenTTL))
		}
		if err != nil {
			a.log.WithError(err).Error("failed to issue reset token")
		} else {
			// there is no mailer; the token is handed out through the log
			a.log.WithFields(logrus.Fields{"email": u.Email, "token": token}).Info("password reset requested")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "If the email is registered, a reset link has been sent",
	})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token           string `json:"token"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case in.NewPassword != in.ConfirmPassword:
		writeError(w, http.StatusBadRequest, "passwords do not match")
		return
	case len(in.NewPassword) < auth.MinPasswordLength:
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	userID, err := a.store.ConsumeResetToken(in.Token, a.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.setPassword(userID, in.NewPassword); err != nil {
		writeError(w, http.StatusInternalServerError, "could not reset password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password has been reset"})
}

func (a *API) signedIn(w http.ResponseWriter, u *store.User, message string) {
	token, err := a.jwt.GenerateToken(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not sign in")
		return
	}
	body := map[string]any{"token": token, "user": a.store.UserView(u, a.now())}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, http.StatusOK, body)
}

// issueCode stores a fresh code for email. There is no mailer; the code is
// handed out through the log.
func (a *API) issueCode(email string) error {
	code, err := auth.NewCode()
	if err != nil {
		return err
	}
	if err := a.store.SaveCode(email, code, a.now().Add(codeTTL)); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"email": email, "code": code}).Info("verification code issued")
	return nil
}

func (a *API) setPassword(userID, password string) error {
	u, err := a.store.UserByID(userID)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return a.store.SaveUser(u)
}
