package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatcal/link-server-go/internal/audit"
	apperrors "github.com/chatcal/link-server-go/internal/errors"
	"github.com/chatcal/link-server-go/internal/model"
	"github.com/chatcal/link-server-go/internal/repository"
	"github.com/chatcal/link-server-go/internal/util"
)

const (
	// Ambiguous characters (O, I, 0, 1) are excluded.
	pairingCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pairingCodeLength = 8

	codeGenerationAttempts = 10
)

type PairingService struct {
	codeRepo repository.PairingCodeRepository
	codeTTL  time.Duration
}

func NewPairingService(codeRepo repository.PairingCodeRepository, codeTTL time.Duration) *PairingService {
	return &PairingService{
		codeRepo: codeRepo,
		codeTTL:  codeTTL,
	}
}

// IssueCode generates a fresh pairing code bound to chatUserID. Collisions
// with an outstanding active code are retried with a new draw.
func (s *PairingService) IssueCode(ctx context.Context, chatUserID string) (*model.PairingCode, error) {
	if strings.TrimSpace(chatUserID) == "" {
		return nil, apperrors.MissingRequired("chatUserId")
	}

	var code string
	for attempts := 0; attempts < codeGenerationAttempts; attempts++ {
		candidate, err := generateRandomCode()
		if err != nil {
			return nil, apperrors.Internal("failed to generate pairing code").WithCause(err)
		}

		existing, err := s.codeRepo.FindByCode(ctx, candidate)
		if err != nil {
			return nil, apperrors.StorageUnavailable(err)
		}
		if existing == nil {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, apperrors.Internal("exhausted pairing code generation attempts")
	}

	pc, err := s.codeRepo.Create(ctx, model.CreatePairingCodeParams{
		Code:       code,
		ChatUserID: chatUserID,
		ExpiresAt:  time.Now().Add(s.codeTTL),
	})
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventCodeIssued,
		ChatUserID: chatUserID,
		Details:    map[string]interface{}{"code": util.MaskCode(code)},
	})
	log.Info().
		Str("code", util.MaskCode(code)).
		Str("chatUserId", chatUserID).
		Time("expiresAt", pc.ExpiresAt).
		Msg("pairing code issued")

	return pc, nil
}

// VerifyAndConsume atomically consumes code and returns the chat user it was
// bound to. Consumption is irreversible; under concurrent submissions of the
// same code exactly one caller succeeds and the rest see CODE_ALREADY_USED.
func (s *PairingService) VerifyAndConsume(ctx context.Context, code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", apperrors.MissingRequired("code")
	}

	pc, err := s.codeRepo.Consume(ctx, normalized)
	if err != nil {
		return "", apperrors.StorageUnavailable(err)
	}

	if pc == nil {
		reason, err := s.classifyRejection(ctx, normalized)
		if err != nil {
			return "", err
		}
		audit.Log(ctx, audit.Event{
			Type:    audit.EventCodeRejected,
			Details: map[string]interface{}{"code": util.MaskCode(normalized), "reason": string(reason.Code)},
		})
		return "", reason
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventCodeConsumed,
		ChatUserID: pc.ChatUserID,
		Details:    map[string]interface{}{"code": util.MaskCode(normalized)},
	})
	log.Info().
		Str("code", util.MaskCode(normalized)).
		Str("chatUserId", pc.ChatUserID).
		Msg("pairing code consumed")

	return pc.ChatUserID, nil
}

// classifyRejection explains why the conditional consume matched nothing.
func (s *PairingService) classifyRejection(ctx context.Context, code string) (*apperrors.AppError, error) {
	pc, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	switch {
	case pc == nil:
		return apperrors.InvalidCode(), nil
	case pc.Expired(time.Now()):
		return apperrors.CodeExpired(), nil
	default:
		// The row was active moments ago; a concurrent caller won the consume.
		return apperrors.CodeAlreadyUsed(), nil
	}
}

func generateRandomCode() (string, error) {
	chars := []byte(pairingCodeChars)
	code := make([]byte, pairingCodeLength)

	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		code[i] = chars[n.Int64()]
	}

	return string(code), nil
}
