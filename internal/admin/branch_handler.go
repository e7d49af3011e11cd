package admin

import (
	"errors"
	"strings"

	"courier-backend/internal/audit"
	"courier-backend/internal/auth"
	"courier-backend/internal/models"
	"courier-backend/internal/store"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const timeLayout = "2006-01-02 15:04:05"

type BranchResponse struct {
	ID        uint   `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	IsHub     bool   `json:"is_hub"`
	CreatedAt string `json:"created_at"`
}

type CreateBranchRequest struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Phone   *string `json:"phone"` // Opsiyonel
	IsHub   bool    `json:"is_hub"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID *uint  `json:"branch_id"`
}

func toBranchResponse(b models.Branch) BranchResponse {
	return BranchResponse{
		ID:        b.ID,
		Code:      b.Code,
		Name:      b.Name,
		Address:   b.Address,
		Phone:     b.Phone,
		IsHub:     b.IsHub,
		CreatedAt: b.CreatedAt.Format(timeLayout),
	}
}

// ----------------------------------------
// ŞUBE
// ----------------------------------------

// POST /api/admin/branches
func CreateBranchHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body CreateBranchRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}

		body.Name = strings.TrimSpace(body.Name)
		body.Code = strings.ToUpper(strings.TrimSpace(body.Code))
		if body.Name == "" || body.Code == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Şube adı ve kodu boş olamaz")
		}

		branch := models.Branch{
			Code:    body.Code,
			Name:    body.Name,
			Address: body.Address,
			IsHub:   body.IsHub,
		}
		if body.Phone != nil {
			branch.Phone = strings.TrimSpace(*body.Phone)
		}

		err = st.RunInTx(c.UserContext(), func(tx store.Tx) error {
			if err := tx.CreateBranch(&branch); err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				BranchID:    &branch.ID,
				UserID:      actor.UserID,
				EntityType:  "branch",
				EntityID:    branch.ID,
				Action:      models.AuditActionCreate,
				Description: "Şube oluşturuldu: " + branch.Name,
				After:       toBranchResponse(branch),
				At:          branch.CreatedAt,
			})
		})
		switch {
		case errors.Is(err, store.ErrConflict):
			return fiber.NewError(fiber.StatusConflict, "Bu şube adı veya kodu zaten kayıtlı")
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, "Şube oluşturulamadı")
		}

		return c.Status(fiber.StatusCreated).JSON(toBranchResponse(branch))
	}
}

// GET /api/admin/branches
func ListBranchesHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var branches []models.Branch
		err := st.RunInTx(c.UserContext(), func(tx store.Tx) error {
			var err error
			branches, err = tx.ListBranches()
			return err
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Şubeler listelenemedi")
		}

		res := make([]BranchResponse, 0, len(branches))
		for _, b := range branches {
			res = append(res, toBranchResponse(b))
		}
		return c.JSON(res)
	}
}

// ----------------------------------------
// KULLANICI OLUŞTURMA
// POST /api/admin/users
// ----------------------------------------

// CreateUserHandler creates branch-bound users. Branch admins may only add
// operators to their own branch.
func CreateUserHandler(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}

		body.Email = strings.ToLower(strings.TrimSpace(body.Email))
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" || body.Email == "" || body.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "İsim, email ve şifre zorunlu")
		}

		role := models.UserRole(body.Role)
		if role == "" {
			role = models.RoleOperator
		}
		if role != models.RoleBranchAdmin && role != models.RoleOperator {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz rol")
		}
		if actor.Role == models.RoleBranchAdmin && role != models.RoleOperator {
			return fiber.NewError(fiber.StatusForbidden, "Şube admini yalnızca operatör oluşturabilir")
		}

		branchID, err := auth.ResolveBranch(actor, body.BranchID)
		if err != nil {
			return err
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Şifre hashlenemedi")
		}

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: string(hash),
			Role:         role,
			BranchID:     &branchID,
		}

		errNoBranch := errors.New("branch not found")
		err = st.RunInTx(c.UserContext(), func(tx store.Tx) error {
			if _, err := tx.GetBranch(branchID); errors.Is(err, store.ErrNotFound) {
				return errNoBranch
			} else if err != nil {
				return err
			}
			if err := tx.CreateUser(&user); err != nil {
				return err
			}
			return audit.WriteLog(tx, audit.LogOptions{
				BranchID:    &branchID,
				UserID:      actor.UserID,
				EntityType:  "user",
				EntityID:    user.ID,
				Action:      models.AuditActionCreate,
				Description: string(user.Role) + " oluşturuldu: " + user.Email,
				After:       fiber.Map{"id": user.ID, "email": user.Email, "role": user.Role, "branch_id": user.BranchID},
				At:          user.CreatedAt,
			})
		})
		switch {
		case errors.Is(err, errNoBranch):
			return fiber.NewError(fiber.StatusNotFound, "Şube bulunamadı")
		case errors.Is(err, store.ErrConflict):
			return fiber.NewError(fiber.StatusBadRequest, "Bu email zaten kayıtlı")
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, "Kullanıcı oluşturulamadı")
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":        user.ID,
			"name":      user.Name,
			"email":     user.Email,
			"role":      user.Role,
			"branch_id": user.BranchID,
		})
	}
}
