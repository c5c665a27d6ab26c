package nn

const (
	COCOPerson     = 0
	COCOBicycle    = 1
	COCOCar        = 2
	COCOMotorcycle = 3
	COCOBus        = 5
	COCOTrain      = 6
	COCOTruck      = 7
)

// COCOVehicles are the classes we treat as road vehicles by default
var COCOVehicles = []int{COCOBicycle, COCOCar, COCOMotorcycle, COCOBus, COCOTruck}

// COCOClasses are the 80 class names, in class-id order
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant", "bed",
	"dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ClassFilter decides which detections reach the tracker
type ClassFilter struct {
	classes       map[int]bool
	MinConfidence float32
}

// NewClassFilter resolves class names against the given class list.
// Unknown names are returned in 'unknown' so the caller can complain about them.
func NewClassFilter(allClasses []string, names []string, minConfidence float32) (filter *ClassFilter, unknown []string) {
	byName := map[string]int{}
	for i, c := range allClasses {
		byName[c] = i
	}
	filter = &ClassFilter{
		classes:       map[int]bool{},
		MinConfidence: minConfidence,
	}
	for _, n := range names {
		if id, ok := byName[n]; ok {
			filter.classes[id] = true
		} else {
			unknown = append(unknown, n)
		}
	}
	return
}

func (f *ClassFilter) Accept(d *ObjectDetection) bool {
	return f.classes[d.Class] && d.Confidence >= f.MinConfidence
}

// Filter returns the accepted detections. The input slice is not modified.
func (f *ClassFilter) Filter(dets []ObjectDetection) []ObjectDetection {
	out := make([]ObjectDetection, 0, len(dets))
	for i := range dets {
		if f.Accept(&dets[i]) {
			out = append(out, dets[i])
		}
	}
	return out
}
