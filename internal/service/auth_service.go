package service

import (
	"context"
	"errors"
	"log"

	"github.com/geektown/Nano-Bananary/internal/config"
	"github.com/geektown/Nano-Bananary/internal/model"
	"github.com/geektown/Nano-Bananary/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredential = errors.New("邮箱或密码错误")
	ErrEmailNotVerified  = errors.New("邮箱未验证")
)

// AuthService 用户注册与登录
type AuthService struct {
	db       *gorm.DB
	cfg      *config.Config
	userRepo *repository.UserRepository
	ledger   *LedgerService
}

func NewAuthService(db *gorm.DB, cfg *config.Config, ledger *LedgerService) *AuthService {
	return &AuthService{
		db:       db,
		cfg:      cfg,
		userRepo: repository.NewUserRepository(db),
		ledger:   ledger,
	}
}

// Register 注册新用户
// 用户、账户、注册奖励流水在同一事务内落库：
// 不存在有用户无账户的中间态，奖励通过账本入账而非直接写余额
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, repository.ErrEmailTaken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Name:     name,
		Email:    email,
		Password: string(hashedPassword),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.userRepo.Create(ctx, tx, user); err != nil {
			return err
		}

		if _, err := s.ledger.CreateAccountTx(ctx, tx, user.ID); err != nil {
			return err
		}

		reward := s.cfg.Business.SignupRewardCredits
		if reward > 0 {
			_, err := s.ledger.ApplyDeltaTx(ctx, tx, &DeltaRequest{
				UserID:      user.ID,
				Amount:      reward,
				Type:        model.TransactionTypeReward,
				Description: "新用户注册奖励",
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("用户注册成功: userID=%d, email=%s", user.ID, user.Email)
	return user, nil
}

// Login 校验登录凭证，通过后由 handler 签发 JWT
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}

	// 邮箱验证门槛是可配置策略，默认关闭
	if s.cfg.Business.RequireVerifiedEmail && !user.IsVerified {
		return nil, ErrEmailNotVerified
	}

	return user, nil
}

// GetUser 按 ID 查询用户
func (s *AuthService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}
