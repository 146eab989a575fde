// Package elements bundles the schemas of the DataJoint elements the
// DeepLabCut workflow is assembled from.
//
// Each constructor returns a schema.Module whose migration templates are
// embedded in the binary. The modules only declare what they need from the
// linking context; the pipeline package decides which namespaces they land
// in and what fills their links.
package elements

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/datajoint/workflow-deeplabcut/internal/schema"
)

//go:embed migrations
var migrationsFS embed.FS

// Module names, in the order the workflow activates them.
const (
	LabModule     = "lab"
	SubjectModule = "subject"
	SessionModule = "session"
	TrainModule   = "train"
	ModelModule   = "model"
)

func migrations(module string) fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations/"+module)
	if err != nil {
		// fs.Sub only fails on an invalid path, which would be a typo above.
		panic(fmt.Sprintf("elements: no migrations for %s: %v", module, err))
	}
	return sub
}

// Lab holds labs, their members, animal sources, protocols and projects.
func Lab() schema.Module {
	return schema.Module{
		Name: LabModule,
		Exports: map[string]string{
			"Lab":           "lab",
			"Location":      "location",
			"User":          "user",
			"LabMembership": "lab_membership",
			"Source":        "source",
			"ProtocolType":  "protocol_type",
			"Protocol":      "protocol",
			"Project":       "project",
			"ProjectUser":   "project_user",
		},
		Migrations: migrations(LabModule),
	}
}

// Subject holds experimental subjects and links them to lab tables.
func Subject() schema.Module {
	return schema.Module{
		Name:      SubjectModule,
		DependsOn: []string{LabModule},
		Requires:  []string{"Source", "Lab", "Protocol", "User"},
		Exports: map[string]string{
			"Subject": "subject",
		},
		Migrations: migrations(SubjectModule),
	}
}

// Session holds recording sessions of a subject.
func Session() schema.Module {
	return schema.Module{
		Name:      SessionModule,
		DependsOn: []string{LabModule, SubjectModule},
		Requires:  []string{"Subject", "Project"},
		Exports: map[string]string{
			"Session":          "session",
			"SessionDirectory": "session_directory",
			"SessionNote":      "session_note",
			"ProjectSession":   "project_session",
		},
		Migrations: migrations(SessionModule),
	}
}

// Train holds labeled video sets, training parameters and trained models.
// It resolves video files against the root data directories and writes
// training output under the processed data directory.
func Train() schema.Module {
	return schema.Module{
		Name:      TrainModule,
		DependsOn: []string{SessionModule},
		Requires:  []string{schema.LinkRootDataDirs, schema.LinkProcessedDataDir},
		Exports: map[string]string{
			"VideoSet":         "video_set",
			"TrainingParamSet": "training_param_set",
			"TrainingTask":     "training_task",
			"ModelTraining":    "model_training",
		},
		Migrations: migrations(TrainModule),
	}
}

// Model holds video recordings, registered models and pose estimation.
// Recordings hang off Session and name the Equipment that captured them.
// The equipment module is not part of this package, so Model depends on
// it by name and the caller must include it in the activation.
func Model(equipmentModule string) schema.Module {
	return schema.Module{
		Name:      ModelModule,
		DependsOn: []string{TrainModule, equipmentModule},
		Requires: []string{
			"Session", "Equipment",
			schema.LinkRootDataDirs, schema.LinkProcessedDataDir,
		},
		Exports: map[string]string{
			"VideoRecording":     "video_recording",
			"RecordingInfo":      "recording_info",
			"BodyPart":           "body_part",
			"Model":              "model",
			"PoseEstimationTask": "pose_estimation_task",
			"PoseEstimation":     "pose_estimation",
		},
		Migrations: migrations(ModelModule),
	}
}
