package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - ConversationMessage, ConversationConfig from message.go
// - Interview, Feedback, CategoryScore from interview.go

// Database schema overview:
// 1. interviews - Generated interview definitions (role, level, type,
//    tech stack, question list); finalized once taken or abandoned
// 2. feedback - Scored reports, one per taken interview, overwritable on retake
