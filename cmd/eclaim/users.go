package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/repository"
	"github.com/ballggwp/eclaim/internal/claim/service"
	"github.com/ballggwp/eclaim/internal/config"
	"github.com/joho/godotenv"
)

// passwordEnv keeps the password out of the process list when set.
const passwordEnv = "ECLAIM_USER_PASSWORD"

// userCommands 账号管理子命令
var userCommands = map[string]func(ctx context.Context, users *service.UserService, args []string, out io.Writer) error{
	"create-user":  createUser,
	"set-password": setPassword,
}

// runUserCommand 运行账号管理子命令，返回进程退出码
func runUserCommand(name string, args []string) int {
	run := userCommands[name]
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: .env file not found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		return 1
	}
	db, err := initDatabase(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		fmt.Fprintf(os.Stderr, "Error: migrate: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	users := service.NewUserService(repository.NewRepositories(db).User)
	if err := run(ctx, users, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func createUser(ctx context.Context, users *service.UserService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	var in service.NewUserInput
	fs.StringVar(&in.Email, "email", "", "login email (required)")
	fs.StringVar(&in.NameTh, "name-th", "", "Thai display name")
	fs.StringVar(&in.NameEn, "name-en", "", "English display name")
	fs.StringVar(&in.EmployeeNumber, "employee-number", "", "employee number used as approver id")
	fs.StringVar(&in.Position, "position", "", "job title")
	fs.StringVar(&in.Department, "department", "", "department")
	fs.StringVar(&in.Role, "role", "USER", "USER, INSURANCE or MANAGER")
	fs.StringVar(&in.Password, "password", "", "initial password (or set "+passwordEnv+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if in.Password == "" {
		in.Password = os.Getenv(passwordEnv)
	}

	u, err := users.CreateUser(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created user %s (%s, %s)\n", u.ID, u.Email, u.Role)
	return nil
}

func setPassword(ctx context.Context, users *service.UserService, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	email := fs.String("email", "", "login email (required)")
	password := fs.String("password", "", "new password (or set "+passwordEnv+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv(passwordEnv)
	}

	u, err := users.SetPassword(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "password updated for %s\n", u.Email)
	return nil
}
