package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/middleware"
	"github.com/cppla/ascend/models"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

// Activity is told when a user becomes active or signs out so background
// sync follows them.
type Activity interface {
	Touch(userID uint)
	Forget(userID uint)
}

type noActivity struct{}

func (noActivity) Touch(uint)  {}
func (noActivity) Forget(uint) {}

func getUserID(ctx *gin.Context) (uint, bool) {
	return middleware.UserID(ctx)
}

// dayOrToday parses raw, or returns the user's today when raw is empty.
func dayOrToday(t *tracker.Tracker, userID uint, raw string) (models.Day, error) {
	if raw == "" {
		return t.Today(userID), nil
	}
	d, err := models.ParseDay(raw)
	if err != nil {
		return "", ledger.ErrInvalidDay
	}
	return d, nil
}

type errorCode struct {
	status int
	code   int
}

var coreErrors = []struct {
	err error
	errorCode
}{
	{ledger.ErrInvalidDay, errorCode{http.StatusBadRequest, 40010}},
	{ledger.ErrFutureDay, errorCode{http.StatusBadRequest, 40011}},
	{ledger.ErrInvalidEffort, errorCode{http.StatusBadRequest, 40012}},
	{ledger.ErrInvalidGrant, errorCode{http.StatusBadRequest, 40013}},
	{tracker.ErrInvalidMood, errorCode{http.StatusBadRequest, 40014}},
	{tracker.ErrInvalidEnergy, errorCode{http.StatusBadRequest, 40015}},
	{ledger.ErrInsufficientBank, errorCode{http.StatusBadRequest, 40020}},
	{ledger.ErrBankDayNotEligible, errorCode{http.StatusBadRequest, 40021}},
	{ledger.ErrDuplicateEntry, errorCode{http.StatusConflict, 40920}},
	{ledger.ErrAlreadyCovered, errorCode{http.StatusConflict, 40921}},
	{tracker.ErrUnknownProjection, errorCode{http.StatusNotFound, 40420}},
}

// writeCoreError maps a core sentinel to the JSON envelope. data, when set,
// still travels with the error (the stored row after a duplicate write).
func writeCoreError(ctx *gin.Context, err error, data interface{}) {
	for _, ce := range coreErrors {
		if errors.Is(err, ce.err) {
			utils.ErrorWithData(ctx, ce.status, ce.code, ce.err.Error(), data)
			return
		}
	}
	utils.Sugar.Errorw("core operation failed", "path", ctx.FullPath(), "error", err)
	utils.Error(ctx, http.StatusInternalServerError, 50020, "internal error")
}
