package service

import (
	"context"
	"time"

	"retailpos/internal/apierror"
	"retailpos/internal/config"
	"retailpos/internal/dto"
	"retailpos/internal/model"
	"retailpos/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredentials = apierror.Unauthorized("invalid credentials")
	ErrInvalidRefresh = apierror.Unauthorized("refresh token is invalid or expired")
	ErrUnknownStation = apierror.Validation("station_id", "Unknown or inactive station")
	ErrOtherBranch    = apierror.Validation("station_id", "The user cannot sell on this branch")
)

// AuthService opens terminal sessions. A session is bound to one station;
// its token carries the branch and station the coordinator runs for.
type AuthService interface {
	Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*dto.LoginResponse, error)
}

type authService struct {
	users    repository.UserRepository
	stations repository.StationRepository
	cfg      *config.Config
	now      func() time.Time
}

func NewAuthService(users repository.UserRepository, stations repository.StationRepository, cfg *config.Config) AuthService {
	return &authService{users: users, stations: stations, cfg: cfg, now: time.Now}
}

func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil || !user.IsActive {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrBadCredentials
	}

	stationID, err := uuid.Parse(req.StationID)
	if err != nil {
		return nil, ErrUnknownStation
	}
	station, err := s.stations.FindByID(ctx, stationID)
	if err != nil {
		return nil, ErrUnknownStation
	}
	if user.BranchID != nil && *user.BranchID != station.BranchID {
		return nil, ErrOtherBranch
	}
	return s.issue(user, station)
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*dto.LoginResponse, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(refreshToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidRefresh
	}

	userID, err := uuid.Parse(stringClaim(claims, "user_id"))
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	stationID, err := uuid.Parse(stringClaim(claims, "station_id"))
	if err != nil {
		return nil, ErrInvalidRefresh
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidRefresh
	}
	station, err := s.stations.FindByID(ctx, stationID)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	return s.issue(user, station)
}

func (s *authService) issue(user *model.LoginUser, station *model.Station) (*dto.LoginResponse, error) {
	accessToken, err := s.generateToken(user, station, time.Duration(s.cfg.JWTExpirationHours)*time.Hour)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.generateToken(user, station, time.Duration(s.cfg.JWTRefreshHours)*time.Hour)
	if err != nil {
		return nil, err
	}

	return &dto.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    s.cfg.JWTExpirationHours * 3600,
		User: dto.UserResponse{
			ID:        user.ID.String(),
			Username:  user.Username,
			Name:      user.Name,
			Email:     user.Email,
			Role:      user.Role(),
			BranchID:  station.BranchID.String(),
			StationID: station.ID.String(),
		},
	}, nil
}

func (s *authService) generateToken(user *model.LoginUser, station *model.Station, duration time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id":    user.ID.String(),
		"username":   user.Username,
		"role":       user.Role(),
		"branch_id":  station.BranchID.String(),
		"station_id": station.ID.String(),
		"exp":        now.Add(duration).Unix(),
		"iat":        now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
