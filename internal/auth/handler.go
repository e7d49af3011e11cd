package auth

import (
	"errors"
	"strings"

	"courier-backend/internal/models"
	"courier-backend/internal/store"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type RegisterSuperAdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func RegisterSuperAdminHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterSuperAdminRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		body.Email = strings.TrimSpace(strings.ToLower(body.Email))

		if body.Email == "" || body.Password == "" || body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "İsim, email ve şifre zorunlu")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Şifre hashlenemedi")
		}

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: string(hash),
			Role:         models.RoleSuperAdmin,
		}

		errExists := errors.New("super admin exists")
		err = st.RunInTx(c.UserContext(), func(tx store.Tx) error {
			// Zaten super admin varsa ikinciyi engelle
			count, err := tx.CountUsersByRole(models.RoleSuperAdmin)
			if err != nil {
				return err
			}
			if count > 0 {
				return errExists
			}
			return tx.CreateUser(&user)
		})
		switch {
		case errors.Is(err, errExists):
			return fiber.NewError(fiber.StatusForbidden, "Zaten bir super admin var")
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, "Kullanıcı oluşturulamadı")
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		})
	}
}

func LoginHandler(secret string, st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		body.Email = strings.TrimSpace(strings.ToLower(body.Email))

		var user *models.User
		err := st.RunInTx(c.UserContext(), func(tx store.Tx) error {
			var err error
			user, err = tx.GetUserByEmail(body.Email)
			return err
		})
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Email veya şifre hatalı")
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Email veya şifre hatalı")
		}

		token, err := GenerateToken(secret, user)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Token oluşturulamadı")
		}

		return c.JSON(fiber.Map{
			"token": token,
			"user": fiber.Map{
				"id":        user.ID,
				"name":      user.Name,
				"email":     user.Email,
				"role":      user.Role,
				"branch_id": user.BranchID,
			},
		})
	}
}

func MeHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := CurrentActor(c)
		if err != nil {
			return err
		}

		var (
			user   *models.User
			branch *models.Branch
		)
		err = st.RunInTx(c.UserContext(), func(tx store.Tx) error {
			var err error
			if user, err = tx.GetUser(actor.UserID); err != nil {
				return err
			}
			if user.BranchID != nil {
				if branch, err = tx.GetBranch(*user.BranchID); err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			// Veritabanından çekilemezse token bilgisini döndür
			return c.JSON(fiber.Map{
				"user_id":   actor.UserID,
				"role":      actor.Role,
				"branch_id": actor.BranchID,
			})
		}

		response := fiber.Map{
			"user_id":   user.ID,
			"name":      user.Name,
			"email":     user.Email,
			"role":      user.Role,
			"branch_id": user.BranchID,
		}
		if branch != nil {
			response["branch"] = fiber.Map{
				"id":     branch.ID,
				"code":   branch.Code,
				"name":   branch.Name,
				"is_hub": branch.IsHub,
			}
		}

		return c.JSON(response)
	}
}
