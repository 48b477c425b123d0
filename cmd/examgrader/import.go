package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examgrader/internal/auth"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
	"github.com/pavelanni/examgrader/internal/validate"
)

// importFile is the JSON document read by the import command. Users,
// classes and exams refer to each other by username and class name.
type importFile struct {
	Users       []importUser       `json:"users" validate:"dive"`
	ParentLinks []importParentLink `json:"parentLinks" validate:"dive"`
	Classes     []importClass      `json:"classes" validate:"dive"`
	Exams       []importExam       `json:"exams" validate:"dive"`
}

type importUser struct {
	Username    string `json:"username" validate:"notblank"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email" validate:"omitempty,email"`
	Role        string `json:"role" validate:"required,oneof=STUDENT TEACHER PARENT ADMIN"`
	Password    string `json:"password"`
}

type importParentLink struct {
	Parent  string `json:"parent" validate:"notblank"`
	Student string `json:"student" validate:"notblank"`
}

type importClass struct {
	Name     string   `json:"name" validate:"notblank"`
	Students []string `json:"students"`
}

type importExam struct {
	Title      string           `json:"title" validate:"notblank"`
	CreatedBy  string           `json:"createdBy" validate:"notblank"`
	Status     string           `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE"`
	Difficulty string           `json:"difficulty"`
	GradeLevel string           `json:"gradeLevel"`
	Questions  []importQuestion `json:"questions" validate:"required,min=1,dive"`
	AssignTo   struct {
		Students []string `json:"students"`
		Classes  []string `json:"classes"`
	} `json:"assignTo"`
}

type importQuestion struct {
	Type          string          `json:"type" validate:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE MULTIPLE_SELECT SHORT_ANSWER LONG_ANSWER FILL_BLANKS ESSAY FILE_UPLOAD"`
	Text          string          `json:"text" validate:"notblank"`
	Marks         int             `json:"marks" validate:"gt=0"`
	CorrectAnswer json.RawMessage `json:"correctAnswer"`
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import users, classes and exams from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addDBFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, path := range args {
		if err := importPath(ctx, db, path); err != nil {
			return err
		}
	}
	return nil
}

// importPath imports one file unless a file with the same path and content
// has been imported before.
func importPath(ctx context.Context, db *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	hash := sha256sum(data)
	done, err := db.IsImported(ctx, path, hash)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if done {
		slog.Info("file unchanged, skipping", "path", path)
		return nil
	}

	var doc importFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validate.Struct("invalid import file "+path, doc); err != nil {
		return err
	}

	im := &importer{db: db, users: map[string]string{}, classes: map[string]string{}}
	if err := im.run(ctx, doc); err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if err := db.RecordImport(ctx, path, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported file", "path", path,
		"users", len(doc.Users), "classes", len(doc.Classes), "exams", len(doc.Exams))
	return nil
}

type importer struct {
	db      *store.Store
	users   map[string]string // username -> id
	classes map[string]string // name -> id
}

func (im *importer) run(ctx context.Context, doc importFile) error {
	for _, u := range doc.Users {
		if err := im.addUser(ctx, u); err != nil {
			return err
		}
	}
	for _, l := range doc.ParentLinks {
		parentID, err := im.userID(ctx, l.Parent)
		if err != nil {
			return err
		}
		studentID, err := im.userID(ctx, l.Student)
		if err != nil {
			return err
		}
		if err := im.db.LinkParent(ctx, parentID, studentID); err != nil {
			return err
		}
	}
	for _, c := range doc.Classes {
		ids := make([]string, 0, len(c.Students))
		for _, name := range c.Students {
			id, err := im.userID(ctx, name)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		id, err := im.db.CreateClass(ctx, model.Class{Name: c.Name, StudentIDs: ids})
		if err != nil {
			return err
		}
		im.classes[c.Name] = id
	}
	for _, e := range doc.Exams {
		if _, err := im.addExam(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) addUser(ctx context.Context, u importUser) error {
	existing, err := im.db.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Debug("user exists, skipping", "username", u.Username)
		im.users[u.Username] = existing.ID
		return nil
	}
	var hash string
	if u.Password != "" {
		if hash, err = auth.HashPassword(u.Password); err != nil {
			return err
		}
	}
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	id, err := im.db.CreateUser(ctx, model.User{
		Username:     u.Username,
		DisplayName:  name,
		Email:        u.Email,
		PasswordHash: hash,
		Role:         model.UserRole(u.Role),
		Active:       true,
	})
	if err != nil {
		return err
	}
	im.users[u.Username] = id
	return nil
}

func (im *importer) userID(ctx context.Context, username string) (string, error) {
	if id, ok := im.users[username]; ok {
		return id, nil
	}
	u, err := im.db.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", fmt.Errorf("unknown user %q", username)
	}
	im.users[username] = u.ID
	return u.ID, nil
}

func (im *importer) addExam(ctx context.Context, e importExam) (*model.Exam, error) {
	creator, err := im.userID(ctx, e.CreatedBy)
	if err != nil {
		return nil, err
	}
	exam := &model.Exam{
		Title:      e.Title,
		CreatedBy:  creator,
		Status:     model.ExamStatus(e.Status),
		Difficulty: e.Difficulty,
		GradeLevel: e.GradeLevel,
	}
	for _, q := range e.Questions {
		exam.Questions = append(exam.Questions, model.Question{
			Type:          model.QuestionType(q.Type),
			Text:          q.Text,
			Marks:         q.Marks,
			CorrectAnswer: q.CorrectAnswer,
		})
	}
	if err := im.db.CreateExam(ctx, exam); err != nil {
		return nil, err
	}

	for _, name := range e.AssignTo.Students {
		id, err := im.userID(ctx, name)
		if err != nil {
			return nil, err
		}
		if _, err := im.db.AssignExam(ctx, model.Assignment{ExamID: exam.ID, StudentID: id, Active: true}); err != nil {
			return nil, err
		}
	}
	for _, name := range e.AssignTo.Classes {
		id, ok := im.classes[name]
		if !ok {
			return nil, fmt.Errorf("unknown class %q", name)
		}
		if _, err := im.db.AssignExam(ctx, model.Assignment{ExamID: exam.ID, ClassID: id, Active: true}); err != nil {
			return nil, err
		}
	}
	slog.Info("imported exam", "exam_id", exam.ID, "title", exam.Title, "questions", len(exam.Questions))
	return exam, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
