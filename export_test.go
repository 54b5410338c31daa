package karakuri

var DetectCycle = detectCycle
