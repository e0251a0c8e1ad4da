// Package bots registers competitors and toggles their eligibility.
package bots

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"botarena/internal/arena/artifact"
	"botarena/internal/arena/model"
	"botarena/internal/arena/rating"
	"botarena/internal/arena/repository"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/contextkey"
	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// Service manages bots.
type Service struct {
	store    repository.Gateway
	ledger   *rating.Ledger
	uploader artifact.Uploader
}

// NewService creates a Service. uploader may be nil when artifacts are published elsewhere.
func NewService(store repository.Gateway, ledger *rating.Ledger, uploader artifact.Uploader) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ledger == nil {
		ledger = rating.NewLedger()
	}
	return &Service{store: store, ledger: ledger, uploader: uploader}, nil
}

// RegisterInput describes a new bot. Hash defaults to the sha256 of Artifact.
type RegisterInput struct {
	Name     string
	Hash     string
	Artifact []byte
}

// Profile is a bot with its current rating.
type Profile struct {
	Bot    *model.Bot `json:"bot"`
	Rating float64    `json:"rating"`
}

// HashArtifact returns the content address used for an artifact.
func HashArtifact(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Register uploads the artifact if given, then creates the bot with its starting rating
// in one transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Bot, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, appErr.ValidationError("name", "required")
	}
	if in.Hash == "" && in.Artifact != nil {
		in.Hash = HashArtifact(in.Artifact)
	}
	if in.Hash == "" {
		return nil, appErr.ValidationError("hash", "required without an artifact")
	}
	if in.Artifact != nil {
		if s.uploader == nil {
			return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("artifact uploads are not configured")
		}
		if err := s.uploader.Upload(ctx, in.Hash, in.Artifact); err != nil {
			return nil, err
		}
	}

	bot := &model.Bot{Name: in.Name, Hash: in.Hash}
	err := s.store.WithinTx(ctx, func(tx repository.Gateway) error {
		if _, err := tx.CreateBot(ctx, bot); err != nil {
			return err
		}
		return s.ledger.Bootstrap(ctx, tx, bot.ID)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(context.WithValue(ctx, contextkey.BotID, bot.ID), "bot registered",
		zap.String("name", bot.Name), zap.String("hash", bot.Hash))
	return bot, nil
}

// SetPaused excludes a bot from, or returns it to, matchmaking. Running matches are unaffected.
func (s *Service) SetPaused(ctx context.Context, botID int64, paused bool) error {
	if botID <= 0 {
		return appErr.ValidationError("id", "must be positive")
	}
	if err := s.store.SetPaused(ctx, botID, paused); err != nil {
		return err
	}
	logger.Info(context.WithValue(ctx, contextkey.BotID, botID), "bot eligibility changed", zap.Bool("paused", paused))
	return nil
}

func (s *Service) Get(ctx context.Context, botID int64) (Profile, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return Profile{}, err
	}
	r, err := s.store.GetRating(ctx, botID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Bot: bot, Rating: r}, nil
}
